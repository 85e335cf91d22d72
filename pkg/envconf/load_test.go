package envconf

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

type dbSection struct {
	DSN     string        `env:"ENVCONF_TEST_DSN"`
	MaxOpen int           `env:"ENVCONF_TEST_MAX_OPEN" envDefault:"10"`
	Idle    time.Duration `env:"ENVCONF_TEST_IDLE" envDefault:"30s"`
}

type testConfig struct {
	Port     uint16     `env:"ENVCONF_TEST_PORT" envDefault:"8080"`
	Level    slog.Level `env:"ENVCONF_TEST_LEVEL" envDefault:"INFO"`
	Debug    bool       `env:"ENVCONF_TEST_DEBUG" envDefault:"false"`
	Rate     float64    `env:"ENVCONF_TEST_RATE" envDefault:"2.5"`
	Secret   *string    `env:"ENVCONF_TEST_SECRET" envDefault:"s3cret"`
	Postgres dbSection
	Ignored  string `env:"-"`
	private  string
}

//nolint:paralleltest
func TestLoad(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		check   func(t *testing.T, c *testConfig)
		wantErr error
		anyErr  bool
	}{
		{
			name: "defaults",
			env:  map[string]string{"ENVCONF_TEST_DSN": "postgres://x"},
			check: func(t *testing.T, c *testConfig) {
				t.Helper()

				if c.Port != 8080 || c.Level != slog.LevelInfo || c.Debug || c.Rate != 2.5 {
					t.Fatalf("defaults not applied: %+v", c)
				}

				if c.Secret == nil || *c.Secret != "s3cret" {
					t.Fatalf("pointer default not applied: %v", c.Secret)
				}

				if c.Postgres.DSN != "postgres://x" || c.Postgres.MaxOpen != 10 || c.Postgres.Idle != 30*time.Second {
					t.Fatalf("nested section = %+v", c.Postgres)
				}
			},
		},
		{
			name: "environment overrides defaults",
			env: map[string]string{
				"ENVCONF_TEST_DSN":   "postgres://y",
				"ENVCONF_TEST_PORT":  "9090",
				"ENVCONF_TEST_LEVEL": "DEBUG",
				"ENVCONF_TEST_IDLE":  "1m",
			},
			check: func(t *testing.T, c *testConfig) {
				t.Helper()

				if c.Port != 9090 || c.Level != slog.LevelDebug || c.Postgres.Idle != time.Minute {
					t.Fatalf("overrides not applied: %+v", c)
				}
			},
		},
		{
			name:    "missing required",
			env:     map[string]string{},
			wantErr: ErrMissingRequired,
		},
		{
			name:   "unparsable value",
			env:    map[string]string{"ENVCONF_TEST_DSN": "x", "ENVCONF_TEST_PORT": "seventy"},
			anyErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			var cfg testConfig

			err := Load(&cfg)

			switch {
			case tt.wantErr != nil:
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("want %v, got %v", tt.wantErr, err)
				}
			case tt.anyErr:
				if err == nil {
					t.Fatalf("expected a parse error")
				}
			default:
				if err != nil {
					t.Fatalf("Load: %v", err)
				}

				tt.check(t, &cfg)
			}
		})
	}
}

func TestLoad_RejectsNonStruct(t *testing.T) {
	t.Parallel()

	var n int

	for _, dst := range []any{nil, n, &n} {
		err := Load(dst)
		if err == nil {
			t.Fatalf("Load(%T) must fail", dst)
		}
	}
}

//nolint:paralleltest
func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")

	err := os.WriteFile(path, []byte("ENVCONF_TEST_FROM_FILE=file\nENVCONF_TEST_KEEP=file\n"), 0o600)
	if err != nil {
		t.Fatalf("write: %v", err)
	}

	t.Setenv("ENVCONF_TEST_KEEP", "process")
	t.Cleanup(func() { _ = os.Unsetenv("ENVCONF_TEST_FROM_FILE") })

	err = LoadDotEnv(path, filepath.Join(dir, "missing.env"))
	if err != nil {
		t.Fatalf("LoadDotEnv: %v", err)
	}

	if got := os.Getenv("ENVCONF_TEST_FROM_FILE"); got != "file" {
		t.Fatalf("from file = %q", got)
	}

	if got := os.Getenv("ENVCONF_TEST_KEEP"); got != "process" {
		t.Fatalf("existing variable overridden: %q", got)
	}
}
