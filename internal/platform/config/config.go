package config

import (
	"os"
	"strconv"
	"strings"
)

// Config is centralized process configuration.
// Keep infra values here and pass typed config into builders.
type Config struct {
	ServiceName    string
	HTTPPort       string
	PostgresDSN    string
	MessageBrokers []string

	LoanPeriodDays  int
	DailyFineAmount float64

	EnableDuplicateLoanGuard bool
	EnableOverdueScanner     bool
	BootstrapAdminEmail      string
}

func Load() (Config, error) {
	service := os.Getenv("SERVICE_NAME")
	if service == "" {
		service = "circulate"
	}

	port := os.Getenv("HTTP_PORT")
	if port == "" {
		port = "8080"
	}

	var brokers []string
	for _, value := range strings.Split(os.Getenv("MESSAGE_BROKERS"), ",") {
		value = strings.TrimSpace(value)
		if value != "" {
			brokers = append(brokers, value)
		}
	}
	if len(brokers) == 0 {
		brokers = []string{"localhost:9092"}
	}

	return Config{
		ServiceName:    service,
		HTTPPort:       port,
		PostgresDSN:    os.Getenv("POSTGRES_DSN"),
		MessageBrokers: brokers,

		LoanPeriodDays:  envInt("LOAN_PERIOD_DAYS", 14),
		DailyFineAmount: envFloat("DAILY_FINE_AMOUNT", 1.0),

		EnableDuplicateLoanGuard: envBool("ENABLE_DUPLICATE_LOAN_GUARD", true),
		EnableOverdueScanner:     envBool("ENABLE_OVERDUE_SCANNER", true),
		BootstrapAdminEmail:      strings.TrimSpace(os.Getenv("BOOTSTRAP_ADMIN_EMAIL")),
	}, nil
}

func envBool(name string, fallback bool) bool {
	raw := strings.TrimSpace(strings.ToLower(os.Getenv(name)))
	if raw == "" {
		return fallback
	}
	switch raw {
	case "1", "true", "t", "yes", "y", "on":
		return true
	case "0", "false", "f", "no", "n", "off":
		return false
	default:
		return fallback
	}
}

func envInt(name string, fallback int) int {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value <= 0 {
		return fallback
	}
	return value
}

func envFloat(name string, fallback float64) float64 {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil || value < 0 {
		return fallback
	}
	return value
}
