package squall

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/mitchellh/mapstructure"
	"gopkg.in/ini.v1"
	"gopkg.in/yaml.v3"
)

// loadConfigFile parses the s's ConfigFile into the matching fields of the
// s. The file format follows the filename extension.
func (s *Squall) loadConfigFile() error {
	b, err := os.ReadFile(s.ConfigFile)
	if err != nil {
		return err
	}

	m := map[string]interface{}{}
	switch e := strings.ToLower(filepath.Ext(s.ConfigFile)); e {
	case ".json":
		err = json.Unmarshal(b, &m)
	case ".toml":
		err = toml.Unmarshal(b, &m)
	case ".yaml", ".yml":
		err = yaml.Unmarshal(b, &m)
	case ".ini":
		var f *ini.File
		if f, err = ini.Load(b); err == nil {
			for k, v := range f.Section("").KeysHash() {
				m[k] = v
			}
		}
	default:
		err = fmt.Errorf(
			"squall: unsupported configuration file extension: %s",
			e,
		)
	}

	if err != nil {
		return err
	}

	d, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
		WeaklyTypedInput: true,
		ZeroFields:       true,
		Result:           s,
	})
	if err != nil {
		return err
	}

	return d.Decode(m)
}
