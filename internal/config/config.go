// Package config resolves the scheduler home directory and loads the
// defaults file merged under per-job overrides at add time.
package config

import (
	"bytes"
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// EnvHome designates the directory holding the queue file, defaults file,
// history database, and log file.
const EnvHome = "VDMSCHED_HOME"

const defaultHomeName = ".vdmsched"

// Home is the resolved scheduler home directory. It is constructed once per
// invocation and threaded through explicitly; there is no process-wide
// singleton.
type Home struct {
	Dir string
}

// ResolveHome picks the home directory: the --dir flag, then VDMSCHED_HOME,
// then ~/.vdmsched. The directory must already exist.
func ResolveHome(flagDir string) (Home, error) {
	dir := flagDir
	if dir == "" {
		dir = os.Getenv(EnvHome)
	}
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return Home{}, fmt.Errorf("config: resolve home: %w", err)
		}
		dir = filepath.Join(home, defaultHomeName)
	}
	if strings.HasPrefix(dir, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return Home{}, fmt.Errorf("config: resolve home: %w", err)
		}
		dir = filepath.Join(home, dir[2:])
	}

	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return Home{}, fmt.Errorf("config: home directory %q not found; "+
			"create it, pass --dir, or set %s", dir, EnvHome)
	}

	abs, err := filepath.Abs(dir)
	if err != nil {
		return Home{}, fmt.Errorf("config: resolve home: %w", err)
	}
	return Home{Dir: abs}, nil
}

func (h Home) QueueFile() string    { return filepath.Join(h.Dir, "queue.lock") }
func (h Home) DefaultsFile() string { return filepath.Join(h.Dir, "defaults.yaml") }
func (h Home) HistoryDB() string    { return filepath.Join(h.Dir, "history.db") }
func (h Home) LogFile() string      { return filepath.Join(h.Dir, "vdmsched.log") }

// Defaults maps recognized option names to default values, merged under
// explicit per-job overrides when a job is added.
type Defaults struct {
	Starttime             string            `yaml:"starttime"`
	Endtime               string            `yaml:"endtime"`
	Station               string            `yaml:"station"`
	Channel               string            `yaml:"channel"`
	SDSRoot               string            `yaml:"sds_root"`
	Priority              int               `yaml:"priority"`
	ForceRequestThreshold string            `yaml:"force_request_threshold"`
	MaxRequestSize        string            `yaml:"max_request_size"`
	Email                 []string          `yaml:"email"`
	Client                string            `yaml:"client"`
	ClientArgs            map[string]string `yaml:"client_args"`
	ClientKwargs          map[string]string `yaml:"client_kwargs"` // historical name for client_args
	NotifySlackWebhook    string            `yaml:"notify_slack_webhook"`
}

// Load reads the defaults file. A missing file yields empty defaults.
func Load(path string) (*Defaults, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return &Defaults{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse unmarshals YAML bytes into validated defaults. Unknown keys are
// rejected so a typo can't silently drop a default.
func Parse(data []byte) (*Defaults, error) {
	var d Defaults
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&d); err != nil {
		return nil, fmt.Errorf("config: parse defaults: %w", err)
	}
	if err := d.validate(); err != nil {
		return nil, err
	}
	if d.ClientArgs == nil {
		d.ClientArgs = d.ClientKwargs
	}
	return &d, nil
}

func (d *Defaults) validate() error {
	var errs []string
	if d.Priority < 0 {
		errs = append(errs, "priority must not be negative")
	}
	if d.NotifySlackWebhook != "" && !strings.HasPrefix(d.NotifySlackWebhook, "https://") {
		errs = append(errs, "notify_slack_webhook must be an https URL")
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Fields renders the defaults as the field=value map consumed by job
// creation, omitting empty values. The notification webhook is config for
// the scheduler itself, not a job field.
func (d *Defaults) Fields() map[string]string {
	f := make(map[string]string)
	put := func(key, value string) {
		if value != "" {
			f[key] = value
		}
	}
	put("starttime", d.Starttime)
	put("endtime", d.Endtime)
	put("station", d.Station)
	put("channel", d.Channel)
	put("sds_root", d.SDSRoot)
	if d.Priority > 0 {
		f["priority"] = strconv.Itoa(d.Priority)
	}
	put("force_request_threshold", d.ForceRequestThreshold)
	put("max_request_size", d.MaxRequestSize)
	put("email", strings.Join(d.Email, ","))
	put("client", d.Client)
	if len(d.ClientArgs) > 0 {
		pairs := make([]string, 0, len(d.ClientArgs))
		for k, v := range d.ClientArgs {
			pairs = append(pairs, k+"="+v)
		}
		sort.Strings(pairs)
		f["client_args"] = strings.Join(pairs, ";")
	}
	return f
}

// CurrentUser returns the invoking OS user name.
func CurrentUser() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	return os.Getenv("USER")
}
