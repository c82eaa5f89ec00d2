package config

import (
	"fmt"
	"os"

	"github.com/spf13/viper"
)

// dynamicKeys is the subset of configuration that capabilities may change
// at runtime. Only these keys are read from, and written to, the dynamic
// overrides file.
var dynamicKeys = []string{
	"monitor.primary_symbols",
	"monitor.secondary_symbols",
	"triggers.normal_interval",
}

// SaveDynamic persists the runtime-changeable settings next to the main
// config file using a write-to-temp-then-rename pattern, so a crash mid-save
// never leaves a truncated overrides file behind.
func SaveDynamic(mainPath string, primary, secondary []string, normalInterval int) error {
	dynPath := DynamicPath(mainPath)

	v := viper.New()
	v.SetConfigType("yaml")
	v.Set("monitor.primary_symbols", primary)
	v.Set("monitor.secondary_symbols", secondary)
	v.Set("triggers.normal_interval", normalInterval)

	tmp := dynPath + ".tmp"
	if err := v.WriteConfigAs(tmp); err != nil {
		return fmt.Errorf("write dynamic config: %w", err)
	}
	if err := os.Rename(tmp, dynPath); err != nil {
		return fmt.Errorf("replace dynamic config: %w", err)
	}
	return nil
}
