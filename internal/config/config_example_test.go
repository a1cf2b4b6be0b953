package config_test

import (
	"fmt"
	"os"

	"github.com/levinOo/go-telemetry-pipeline/internal/config"
)

// Example_flags демонстрирует настройку через флаги командной строки.
func Example_flags() {
	cfg, err := config.Load([]string{"-a", "0.0.0.0:9090", "--size-trigger", "250", "--time-trigger", "15s"})
	if err != nil {
		fmt.Println("Error:", err)
		return
	}

	fmt.Printf("Address: %s\n", cfg.Addr)
	fmt.Printf("Size trigger: %d\n", cfg.SizeTrigger)
	fmt.Printf("Time trigger: %s\n", cfg.TimeTrigger)
	// Output:
	// Address: 0.0.0.0:9090
	// Size trigger: 250
	// Time trigger: 15s
}

// Example_environmentVariables демонстрирует приоритет переменных окружения над флагами.
func Example_environmentVariables() {
	os.Setenv("MAX_RETRIES", "5")
	os.Setenv("RETRY_MAX_DELAY", "1m")
	defer os.Unsetenv("MAX_RETRIES")
	defer os.Unsetenv("RETRY_MAX_DELAY")

	cfg, err := config.Load([]string{"--max-retries", "2"})
	if err != nil {
		fmt.Println("Error:", err)
		return
	}

	fmt.Printf("Max retries: %d\n", cfg.MaxRetries)
	fmt.Printf("Retry max delay: %s\n", cfg.RetryMaxDelay)
	// Output:
	// Max retries: 5
	// Retry max delay: 1m0s
}

// Example_postgresSink демонстрирует включение экспорта в PostgreSQL.
func Example_postgresSink() {
	os.Setenv("DATABASE_DSN", "postgres://telemetry:pass@db:5432/telemetry?sslmode=disable")
	defer os.Unsetenv("DATABASE_DSN")

	cfg, err := config.Load(nil)
	if err != nil {
		fmt.Println("Error:", err)
		return
	}

	fmt.Printf("Postgres sink: %t\n", cfg.DatabaseDSN != "")
	fmt.Printf("HTTP sink: %t\n", cfg.SinkURL != "")
	// Output:
	// Postgres sink: true
	// HTTP sink: false
}

// Example_invalid демонстрирует отказ при несогласованных настройках.
func Example_invalid() {
	_, err := config.Load([]string{"--size-trigger", "20000"})
	fmt.Println(err != nil)
	// Output:
	// true
}
