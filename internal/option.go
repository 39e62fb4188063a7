package internal

// Option is a functional option for configuring the application at startup.
type Option func(*application)

// application collects the startup options consumed by Run and RunMCP.
type application struct {
	config *Config
}

// WithConfig sets the application configuration.
func WithConfig(cfg *Config) Option {
	return func(a *application) {
		a.config = cfg
	}
}
