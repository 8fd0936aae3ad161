package config

import (
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// LoadProcessorsFile reads processor declarations from a standalone YAML
// file. Operations teams keep the processor catalog separate from service
// config so declaring a new processor never touches deployment settings.
func LoadProcessorsFile(path string) (map[string]ProcessorConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "config: read processors file %s", path)
	}

	// The YAML has a top-level "processors" key
	var wrapper struct {
		Processors map[string]ProcessorConfig `yaml:"processors"`
	}
	if err := yaml.Unmarshal(data, &wrapper); err != nil {
		return nil, eris.Wrapf(err, "config: parse processors file %s", path)
	}
	if len(wrapper.Processors) == 0 {
		return nil, eris.Errorf("config: processors file %s declares no processors", path)
	}

	return wrapper.Processors, nil
}
