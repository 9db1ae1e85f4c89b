// Package doctor runs the agent's ordered diagnostic checks and renders
// them as a structured report. Checks are independent probes: one failing
// never stops the rest.
package doctor

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/myndhyve/myndhyve-cli-sub001/internal/auth"
	"github.com/myndhyve/myndhyve-cli-sub001/internal/config"
)

const (
	// minGoMinor is the lowest supported Go runtime minor version.
	minGoMinor = 22

	reachTimeout = 10 * time.Second
)

// Check is one probe result.
type Check struct {
	Name    string `json:"name"`
	OK      bool   `json:"ok"`
	Message string `json:"message"`
	Fix     string `json:"fix,omitempty"`
}

// Report is the full diagnostic output.
type Report struct {
	Version string  `json:"version"`
	Checks  []Check `json:"checks"`
	Passed  int     `json:"passed"`
	Failed  int     `json:"failed"`
}

// HTTPClient abstracts HTTP calls for testing.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Doctor bundles the collaborators the checks probe.
type Doctor struct {
	version    string
	cfg        *config.Config
	auth       *auth.Store
	httpClient HTTPClient
	logger     zerolog.Logger

	// goVersion is swappable for tests; defaults to runtime.Version.
	goVersion func() string
}

func New(version string, cfg *config.Config, authStore *auth.Store, logger zerolog.Logger) *Doctor {
	return &Doctor{
		version:    version,
		cfg:        cfg,
		auth:       authStore,
		httpClient: &http.Client{Timeout: reachTimeout},
		logger:     logger.With().Str("component", "doctor").Logger(),
		goVersion:  runtime.Version,
	}
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (d *Doctor) SetHTTPClient(hc HTTPClient) { d.httpClient = hc }

// Run executes every check in its stable order.
func (d *Doctor) Run(ctx context.Context) Report {
	report := Report{Version: d.version}
	for _, check := range []func(context.Context) Check{
		d.checkRuntime,
		d.checkConfigDir,
		d.checkConfigFile,
		d.checkAuthStatus,
		d.checkCredentialsFile,
		d.checkRelayConfigured,
		d.checkProjectContext,
		d.checkCloudReachable,
	} {
		c := check(ctx)
		report.Checks = append(report.Checks, c)
		if c.OK {
			report.Passed++
		} else {
			report.Failed++
		}
	}
	return report
}

func (d *Doctor) checkRuntime(context.Context) Check {
	v := d.goVersion()
	minor, ok := goMinor(v)
	if !ok {
		return Check{Name: "runtime", OK: true, Message: fmt.Sprintf("unrecognized runtime version %s", v)}
	}
	if minor < minGoMinor {
		return Check{
			Name:    "runtime",
			Message: fmt.Sprintf("%s is below the supported minimum go1.%d", v, minGoMinor),
			Fix:     "reinstall the CLI with a current build",
		}
	}
	return Check{Name: "runtime", OK: true, Message: v}
}

func (d *Doctor) checkConfigDir(context.Context) Check {
	info, err := os.Stat(d.cfg.ConfigDir)
	if err != nil || !info.IsDir() {
		return Check{
			Name:    "config-dir",
			Message: fmt.Sprintf("%s does not exist", d.cfg.ConfigDir),
			Fix:     "run any command that writes config, or create it manually",
		}
	}
	return Check{Name: "config-dir", OK: true, Message: d.cfg.ConfigDir}
}

func (d *Doctor) checkConfigFile(context.Context) Check {
	if _, err := os.Stat(d.cfg.ConfigFile()); os.IsNotExist(err) {
		return Check{Name: "config-file", OK: true, Message: "absent, defaults apply"}
	}
	if _, err := d.cfg.LoadRelay(); err != nil {
		return Check{
			Name:    "config-file",
			Message: err.Error(),
			Fix:     "fix or delete " + d.cfg.ConfigFile(),
		}
	}
	return Check{Name: "config-file", OK: true, Message: "valid"}
}

func (d *Doctor) checkAuthStatus(context.Context) Check {
	switch d.auth.Status() {
	case auth.StatusEnvToken:
		return Check{Name: "auth", OK: true, Message: "using " + auth.EnvToken + " environment token"}
	case auth.StatusValid:
		return Check{Name: "auth", OK: true, Message: "stored credentials valid"}
	case auth.StatusExpired:
		return Check{Name: "auth", Message: "stored credentials expired", Fix: "run `myndhyve login`"}
	default:
		return Check{Name: "auth", Message: "not logged in", Fix: "run `myndhyve login`"}
	}
}

func (d *Doctor) checkCredentialsFile(context.Context) Check {
	if _, err := os.Stat(d.cfg.CredentialsFile()); os.IsNotExist(err) {
		return Check{Name: "credentials-file", OK: true, Message: "absent"}
	}
	creds, err := d.auth.Load()
	if err != nil {
		return Check{
			Name:    "credentials-file",
			Message: err.Error(),
			Fix:     "run `myndhyve login` to rewrite it",
		}
	}
	if creds.Expired(time.Now()) {
		return Check{Name: "credentials-file", Message: "credentials expired", Fix: "run `myndhyve login`"}
	}
	return Check{Name: "credentials-file", OK: true, Message: "valid"}
}

func (d *Doctor) checkRelayConfigured(context.Context) Check {
	rc, err := d.cfg.LoadRelay()
	if err != nil {
		return Check{Name: "relay", Message: err.Error(), Fix: "run `myndhyve relay setup`"}
	}
	if !rc.Configured() {
		return Check{
			Name:    "relay",
			Message: "relay not configured or device token expired",
			Fix:     "run `myndhyve relay setup`",
		}
	}
	return Check{Name: "relay", OK: true, Message: fmt.Sprintf("%s relay %s", rc.Channel, rc.RelayID)}
}

func (d *Doctor) checkProjectContext(context.Context) Check {
	rc, err := d.cfg.LoadRelay()
	if err != nil || rc.ActiveProject == "" {
		return Check{Name: "project", OK: true, Message: "no active project (optional)"}
	}
	return Check{Name: "project", OK: true, Message: "active project " + rc.ActiveProject}
}

// checkCloudReachable HEADs the cloud URL. Any HTTP status counts as
// reachable; only a transport failure fails the check.
func (d *Doctor) checkCloudReachable(ctx context.Context) Check {
	reqCtx, cancel := context.WithTimeout(ctx, reachTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodHead, d.cfg.CloudURL, nil)
	if err != nil {
		return Check{Name: "cloud", Message: err.Error()}
	}
	resp, err := d.httpClient.Do(req)
	if err != nil {
		return Check{
			Name:    "cloud",
			Message: fmt.Sprintf("%s unreachable: %v", d.cfg.CloudURL, err),
			Fix:     "check your network connection",
		}
	}
	resp.Body.Close()
	return Check{Name: "cloud", OK: true, Message: fmt.Sprintf("%s (status %d)", d.cfg.CloudURL, resp.StatusCode)}
}

// goMinor extracts the minor number from a go1.NN[.P] version string.
func goMinor(v string) (int, bool) {
	v = strings.TrimPrefix(v, "go")
	parts := strings.Split(v, ".")
	if len(parts) < 2 {
		return 0, false
	}
	minor, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, false
	}
	return minor, true
}
