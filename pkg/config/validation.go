package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Validate checks the configuration against its struct tags.
//
// Errors name the offending field and the failed rule, e.g.
// "Config.Logging.Level failed 'oneof'".
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}

	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return err
		}

		msgs := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			msg := fmt.Sprintf("%s failed '%s'", fe.Namespace(), fe.Tag())
			if fe.Param() != "" {
				msg += fmt.Sprintf(" (%s)", fe.Param())
			}
			msgs = append(msgs, msg)
		}
		return errors.New(strings.Join(msgs, "; "))
	}

	return nil
}
