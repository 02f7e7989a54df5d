package proximity

import (
	"fmt"

	"github.com/fsnotify/fsnotify"
	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// WatchFile applies the settings in path (any format viper reads) and keeps
// re-applying them whenever the file changes. An invalid file leaves the
// current settings in place.
func WatchFile(path string, tuning *Tuning, logger *zap.Logger) error {
	log := logger.Named("TuningWatcher")
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("reading tuning file %s: %w", path, err)
	}

	validate := validator.New()
	validate.SetTagName("binding")
	apply := func() error {
		var req UpdateSettingsRequest
		if err := v.Unmarshal(&req); err != nil {
			return fmt.Errorf("decoding tuning file: %w", err)
		}
		if err := validate.Struct(req); err != nil {
			return fmt.Errorf("validating tuning file: %w", err)
		}
		_, err := tuning.Update(req.Apply)
		return err
	}

	if err := apply(); err != nil {
		return err
	}
	v.OnConfigChange(func(e fsnotify.Event) {
		if err := apply(); err != nil {
			log.Warn("Ignoring tuning file change", zap.String("file", e.Name), zap.Error(err))
			return
		}
		log.Info("Tuning file reloaded", zap.String("file", e.Name))
	})
	v.WatchConfig()
	log.Info("Watching tuning file", zap.String("file", path))
	return nil
}
