package adapter

import (
	"fmt"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/sergev/drawbridge/config"
)

// Command line settings. Each can also come from the environment, and
// overrides the config file when set.
const (
	settingPort     = "port"
	settingLogLevel = "log-level"
	settingNoCTS    = "no-cts"
)

var settingEnv = map[string]string{
	settingPort:     "DRAWBRIDGE_PORT",
	settingLogLevel: "DRAWBRIDGE_LOG_LEVEL",
	settingNoCTS:    "DRAWBRIDGE_NO_CTS",
}

// addSettings declares the settings on the flag set and binds them to
// their environment variables
func addSettings(flags *pflag.FlagSet) {
	flags.StringP(settingPort, "p", "", fmt.Sprintf("serial port of the bridge (%s)", settingEnv[settingPort]))
	flags.StringP(settingLogLevel, "l", "", fmt.Sprintf("log level: trace, debug, info, warning, error (%s)", settingEnv[settingLogLevel]))
	flags.Bool(settingNoCTS, false, fmt.Sprintf("disable CTS flow control (%s)", settingEnv[settingNoCTS]))

	for flag, env := range settingEnv {
		viper.BindPFlag(flag, flags.Lookup(flag))
		viper.BindEnv(flag, env)
	}
}

// applySettings overrides the loaded config with the settings given on
// the command line or in the environment, and sets the log level
func applySettings() error {
	if viper.IsSet(settingPort) {
		config.Port = viper.GetString(settingPort)
	}
	if viper.IsSet(settingLogLevel) {
		level, err := log.ParseLevel(viper.GetString(settingLogLevel))
		if err != nil {
			return fmt.Errorf("invalid --%s: %w", settingLogLevel, err)
		}
		config.LogLevel = level
	}
	if viper.IsSet(settingNoCTS) && viper.GetBool(settingNoCTS) {
		config.CTSFlowControl = false
	}

	log.SetLevel(config.LogLevel)
	log.Tracef("settings: port=%q level=%s cts=%v", config.Port, config.LogLevel, config.CTSFlowControl)
	return nil
}
