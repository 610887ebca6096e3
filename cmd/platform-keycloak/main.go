// ABOUTME: Entry point for platform-keycloak, the realm provisioning tool
// ABOUTME: Waits for Keycloak, applies the realm plan idempotently and lists realm users

package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/fatih/color"

	"github.com/2389/platform-engine/internal/config"
	"github.com/2389/platform-engine/internal/console"
	"github.com/2389/platform-engine/internal/provision"
)

// settings come from the environment so the tool runs unchanged in containers.
type settings struct {
	URL       string        `env:"KEYCLOAK_URL" envDefault:"http://localhost:8080"`
	AdminUser string        `env:"KEYCLOAK_ADMIN_USER" envDefault:"admin"`
	AdminPass string        `env:"KEYCLOAK_ADMIN_PASS,required,notEmpty"`
	Realm     string        `env:"PLATFORM_REALM_NAME" envDefault:"platform-engine-realm"`
	WebOrigin string        `env:"PLATFORM_WEB_ORIGIN" envDefault:"http://localhost:3000"`
	APIOrigin string        `env:"PLATFORM_API_ORIGIN" envDefault:"http://localhost:4000"`
	PlanPath  string        `env:"PLATFORM_REALM_PLAN"`
	Attempts  int           `env:"KEYCLOAK_WAIT_ATTEMPTS" envDefault:"20"`
	Delay     time.Duration `env:"KEYCLOAK_WAIT_DELAY" envDefault:"10s"`
	LogLevel  string        `env:"PLATFORM_LOG_LEVEL" envDefault:"info"`
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: platform-keycloak <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  provision [--plan FILE]  Create or update the realm, roles, clients and users")
		fmt.Println("  check-users              List the users of the realm")
		fmt.Println()
		fmt.Println("Environment: KEYCLOAK_URL, KEYCLOAK_ADMIN_USER, KEYCLOAK_ADMIN_PASS, PLATFORM_REALM_NAME,")
		fmt.Println("             PLATFORM_WEB_ORIGIN, PLATFORM_API_ORIGIN, PLATFORM_REALM_PLAN")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	s, err := loadSettings(os.Args[2:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	switch os.Args[1] {
	case "provision":
		err = runProvision(ctx, s, os.Stdout)
	case "check-users":
		err = runCheckUsers(ctx, s, os.Stdout)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadSettings reads the environment, then applies --plan from args.
func loadSettings(args []string) (settings, error) {
	var s settings
	if err := env.Parse(&s); err != nil {
		return s, fmt.Errorf("parsing environment: %w", err)
	}

	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case arg == "--plan":
			if i+1 >= len(args) {
				return s, fmt.Errorf("--plan requires a value")
			}
			s.PlanPath = args[i+1]
			i++
		case strings.HasPrefix(arg, "--plan="):
			s.PlanPath = strings.TrimPrefix(arg, "--plan=")
		default:
			return s, fmt.Errorf("unexpected argument: %s", arg)
		}
	}
	return s, nil
}

func (s settings) credentials() provision.Credentials {
	return provision.Credentials{URL: s.URL, Username: s.AdminUser, Password: s.AdminPass}
}

// plan returns the plan file when given, else the default plan for the realm.
func (s settings) plan() (provision.Plan, error) {
	if s.PlanPath != "" {
		return provision.LoadPlan(s.PlanPath)
	}
	return provision.DefaultPlan(s.Realm, s.WebOrigin, s.APIOrigin), nil
}

func connect(ctx context.Context, s settings, w io.Writer) (*provision.Provisioner, error) {
	logger := console.SetupLogger(config.LoggingConfig{Level: s.LogLevel}, w)

	admin, err := provision.WaitForKeycloak(ctx, s.credentials(), s.Attempts, s.Delay, logger.With("component", "provision"))
	if err != nil {
		return nil, err
	}
	return provision.New(admin, logger.With("component", "provision")), nil
}

func runProvision(ctx context.Context, s settings, w io.Writer) error {
	plan, err := s.plan()
	if err != nil {
		return err
	}

	cyan := color.New(color.FgCyan)
	cyan.Fprintf(w, "Provisioning realm %s on %s\n\n", plan.Realm.Name, s.URL)

	p, err := connect(ctx, s, w)
	if err != nil {
		return err
	}

	report, err := p.Apply(ctx, plan)
	if err != nil {
		return fmt.Errorf("provisioning realm %q: %w", plan.Realm.Name, err)
	}

	printReport(w, plan.Realm.Name, report)
	return nil
}

// printReport prints what Apply changed.
func printReport(w io.Writer, realm string, r *provision.Report) {
	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)
	red := color.New(color.FgRed)
	gray := color.New(color.FgHiBlack)

	fmt.Fprintln(w)
	if r.RealmCreated {
		green.Fprintf(w, "  ✓ Realm created: %s\n", realm)
	} else {
		gray.Fprintf(w, "  · Realm exists:  %s\n", realm)
	}
	for _, name := range r.RolesCreated {
		green.Fprintf(w, "  ✓ Role created:  %s\n", name)
	}
	for _, id := range r.ClientsCreated {
		green.Fprintf(w, "  ✓ Client created: %s\n", id)
	}
	for _, id := range r.ClientsUpdated {
		gray.Fprintf(w, "  · Client updated: %s\n", id)
	}
	for _, u := range r.UsersCreated {
		green.Fprintf(w, "  ✓ User created:  %s\n", u)
	}
	for _, u := range r.UsersExisting {
		gray.Fprintf(w, "  · User exists:   %s\n", u)
	}

	failed := make([]string, 0, len(r.UsersFailed))
	for u := range r.UsersFailed {
		failed = append(failed, u)
	}
	sort.Strings(failed)
	for _, u := range failed {
		red.Fprintf(w, "  ✗ User skipped:  %s (%v)\n", u, r.UsersFailed[u])
	}

	fmt.Fprintln(w)
	if len(failed) > 0 {
		yellow.Fprintf(w, "  Provisioning complete with %d skipped user(s).\n", len(failed))
		return
	}
	green.Fprintln(w, "  Provisioning complete!")
}

func runCheckUsers(ctx context.Context, s settings, w io.Writer) error {
	p, err := connect(ctx, s, os.Stderr)
	if err != nil {
		return err
	}

	users, err := p.CheckUsers(ctx, s.Realm)
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "Users in %s:\n", s.Realm)
	for _, u := range users {
		fmt.Fprintf(w, "  - %s (enabled: %t)\n", u.Username, u.Enabled)
	}
	return nil
}
