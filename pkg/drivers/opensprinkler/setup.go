package opensprinkler

import (
	"fmt"
	"html/template"
	"net/http"
	"strconv"

	log "github.com/sirupsen/logrus"
)

// SetupPage serves the HTML form used to edit the controller configuration.
// Changes are applied on the next start.
type SetupPage struct {
	store  *Store
	tmpl   *template.Template
	logger log.FieldLogger
}

func NewSetupPage(store *Store, tmpl *template.Template, logger log.FieldLogger) *SetupPage {
	return &SetupPage{store: store, tmpl: tmpl, logger: logger}
}

func (p *SetupPage) HandleSetup(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		cfg, err := p.store.GetConfig()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		p.renderSetupForm(w, cfg, false, "")

	case http.MethodPost:
		cfg, err := parseSetupForm(r)
		if err != nil {
			p.renderSetupForm(w, cfg, false, err.Error())
			return
		}

		// A blank password field keeps the stored password.
		if r.FormValue("password") == "" {
			if current, err := p.store.GetConfig(); err == nil {
				cfg.Password = current.Password
			}
		}

		if err := p.store.SetConfig(cfg); err != nil {
			p.renderSetupForm(w, cfg, false, err.Error())
			return
		}
		p.logger.Infof("Controller config updated for host %s", cfg.Host)

		p.renderSetupForm(w, cfg, true, "")

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (p *SetupPage) renderSetupForm(w http.ResponseWriter, cfg Config, success bool, err string) {
	data := struct {
		Config
		Success bool
		Error   string
	}{cfg, success, err}

	if err := p.tmpl.ExecuteTemplate(w, "setup.html", data); err != nil {
		http.Error(w, "Error rendering template", http.StatusInternalServerError)
		p.logger.Errorf("Error rendering template: %v", err)
	}
}

func parseSetupForm(r *http.Request) (Config, error) {
	if err := r.ParseForm(); err != nil {
		return Config{}, fmt.Errorf("error parsing form: %v", err)
	}

	cfg := defaultConfig
	cfg.Host = r.FormValue("host")
	if name := r.FormValue("name"); name != "" {
		cfg.Name = name
	}
	if password := r.FormValue("password"); password != "" {
		cfg.Password = password
	}

	fields := []struct {
		key   string
		value *int
	}{
		{"timeout", &cfg.Timeout},
		{"default-runtime", &cfg.DefaultRuntime},
		{"full-refresh", &cfg.Refresh},
		{"retries", &cfg.Retries},
	}
	for _, f := range fields {
		v, err := getFormInt(r, f.key, *f.value)
		if err != nil {
			return cfg, err
		}
		*f.value = v
	}

	return cfg, nil
}

func getFormInt(r *http.Request, key string, fallback int) (int, error) {
	value := r.FormValue(key)
	if value == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %v", key, err)
	}
	return v, nil
}
