package config

// BrowserConfig configures the rod page surface.
type BrowserConfig struct {
	DebuggerURL       string   `yaml:"debugger_url"` // attach instead of launching
	Launch            []string `yaml:"launch"`       // binary followed by flags
	Headless          bool     `yaml:"headless"`
	ViewportWidth     int      `yaml:"viewport_width"`
	ViewportHeight    int      `yaml:"viewport_height"`
	Mobile            bool     `yaml:"mobile"`
	NavigationTimeout string   `yaml:"navigation_timeout"`
}
