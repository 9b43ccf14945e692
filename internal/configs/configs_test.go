package configs

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	req := require.New(t)
	t.Chdir(t.TempDir())

	cfg, err := LoadConfig()
	req.NoError(err)

	req.Equal("development", cfg.Environment)
	req.Equal(8080, cfg.Port)
	req.Equal(1000, cfg.HistoryLimit)
	req.Equal(time.Second, cfg.TypingTimeout)
	req.Equal(ArchiveNone, cfg.ArchiveDriver)
	req.False(cfg.StorageEnabled())
	req.True(cfg.IsDevelopment())
}

func TestLoadConfig_Overrides(t *testing.T) {
	req := require.New(t)
	t.Chdir(t.TempDir())

	t.Setenv("PORT", "9000")
	t.Setenv("ALLOWED_ORIGINS", "https://a.example, https://b.example ,")
	t.Setenv("HISTORY_LIMIT", "50")
	t.Setenv("TYPING_TIMEOUT", "1500ms")
	t.Setenv("ARCHIVE_DRIVER", "BADGER")
	t.Setenv("BADGER_PATH", "/tmp/archive")

	cfg, err := LoadConfig()
	req.NoError(err)

	req.Equal(9000, cfg.Port)
	req.Equal([]string{"https://a.example", "https://b.example"}, cfg.AllowedOrigins)
	req.Equal(50, cfg.HistoryLimit)
	req.Equal(1500*time.Millisecond, cfg.TypingTimeout)
	req.Equal(ArchiveBadger, cfg.ArchiveDriver)
}

func TestLoadConfig_Rejects(t *testing.T) {
	cases := map[string]map[string]string{
		"privileged port":      {"PORT": "80"},
		"non numeric port":     {"PORT": "abc"},
		"zero history":         {"HISTORY_LIMIT": "0"},
		"negative typing":      {"TYPING_TIMEOUT": "-1s"},
		"unknown archive":      {"ARCHIVE_DRIVER": "sqlite"},
		"badger without path":  {"ARCHIVE_DRIVER": "badger"},
		"partial s3":           {"S3_BUCKET_NAME": "bucket"},
		"prod without origins": {"ENVIRONMENT": "production"},
		"prod postgres without dsn": {
			"ENVIRONMENT":     "production",
			"ALLOWED_ORIGINS": "https://a.example",
			"ARCHIVE_DRIVER":  "postgres",
		},
	}

	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			t.Chdir(t.TempDir())
			for k, v := range env {
				t.Setenv(k, v)
			}

			_, err := LoadConfig()
			require.Error(t, err)
		})
	}
}

func TestLoadConfig_PostgresDevDefaultDSN(t *testing.T) {
	req := require.New(t)
	t.Chdir(t.TempDir())
	t.Setenv("ARCHIVE_DRIVER", "postgres")

	cfg, err := LoadConfig()
	req.NoError(err)
	req.NotEmpty(cfg.DatabaseDSN)
}
