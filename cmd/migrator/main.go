package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/ariefcatur/go-storefront-orders/internal/config"
	"github.com/ariefcatur/go-storefront-orders/migrations"
	"github.com/golang-migrate/migrate/v4"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "migrator:", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	_ = godotenv.Load()

	fs := pflag.NewFlagSet("migrator", pflag.ContinueOnError)
	down := fs.Bool("down", false, "roll back every migration")
	steps := fs.Int("steps", 0, "apply n migrations (negative rolls back)")
	fs.ParseErrorsWhitelist.UnknownFlags = true
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(filterFlags(args, "down", "steps"))
	if err != nil {
		return err
	}
	if cfg.PostgresDSN == "" {
		return errors.New("POSTGRES_DSN: required")
	}

	m, err := migrations.New(cfg.PostgresDSN)
	if err != nil {
		return err
	}
	defer func() { _, _ = m.Close() }()

	switch {
	case *down:
		err = m.Down()
	case *steps != 0:
		err = m.Steps(*steps)
	default:
		err = m.Up()
	}
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}

	version, dirty, verr := m.Version()
	if errors.Is(verr, migrate.ErrNilVersion) {
		fmt.Println("migrations: no version applied")
		return nil
	}
	if verr != nil {
		return verr
	}
	fmt.Printf("migrations: version=%d dirty=%t\n", version, dirty)
	return nil
}

// filterFlags drops the migrator's own flags before the rest go to config.
func filterFlags(args []string, names ...string) []string {
	out := make([]string, 0, len(args))
	for i := 0; i < len(args); i++ {
		a := args[i]
		skip := false
		for _, n := range names {
			switch {
			case a == "--"+n:
				skip = true
				if n == "steps" && i+1 < len(args) {
					i++
				}
			case len(a) > len(n)+3 && a[:len(n)+3] == "--"+n+"=":
				skip = true
			}
		}
		if !skip {
			out = append(out, a)
		}
	}
	return out
}
