package lily

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is a flat path -> typed value map, primed with the defaults a
// fresh VM needs (GC threshold, recursion depth, optimize level).
type Config map[string]*cfgVal

// NewConfig creates a new configuration object with every default the VM
// and emitter read.
func NewConfig() *Config {
	m := make(Config)
	m.SetInt("gc.threshold", 2000)
	m.SetInt("vm.max_depth", 100)
	m.SetInt("vm.equality_depth_limit", 100)
	m.SetInt("compiler.optimize", 1)
	m.SetBool("compiler.closures", true)
	return &m
}

type cfgValType int

const (
	cfgValType_Undefined cfgValType = iota
	cfgValType_Bool
	cfgValType_Int
	cfgValType_String
)

func (vt cfgValType) String() string {
	return map[cfgValType]string{
		cfgValType_Undefined: "undefined",
		cfgValType_Bool:      "bool",
		cfgValType_Int:       "int",
		cfgValType_String:    "string",
	}[vt]
}

type cfgVal struct {
	typ      cfgValType
	asBool   bool
	asInt    int
	asString string
}

// assignType is mostly for preventing programming errors
func (v *cfgVal) assignType(vt cfgValType) {
	if v.typ != vt && v.typ != cfgValType_Undefined {
		panic(fmt.Sprintf("Can't assign `%s` to type `%s`", vt, v.typ))
	}
	v.typ = vt
}

func (v *cfgVal) checkType(vt cfgValType) {
	if v.typ != vt {
		panic(fmt.Sprintf("Can't retrieve `%s` from `%s` variable", vt, v.typ))
	}
}

func (c *Config) SetBool(path string, v bool) {
	(*c)[path] = &cfgVal{}
	(*c)[path].assignType(cfgValType_Bool)
	(*c)[path].asBool = v
}

func (c *Config) SetInt(path string, v int) {
	(*c)[path] = &cfgVal{}
	(*c)[path].assignType(cfgValType_Int)
	(*c)[path].asInt = v
}

func (c *Config) SetString(path string, v string) {
	(*c)[path] = &cfgVal{}
	(*c)[path].assignType(cfgValType_String)
	(*c)[path].asString = v
}

func (c *Config) GetBool(path string) bool {
	if val, ok := (*c)[path]; ok {
		val.checkType(cfgValType_Bool)
		return val.asBool
	}
	panic(fmt.Sprintf("Bool setting `%s` does not exist", path))
}

func (c *Config) GetInt(path string) int {
	if val, ok := (*c)[path]; ok {
		val.checkType(cfgValType_Int)
		return val.asInt
	}
	panic(fmt.Sprintf("Int setting `%s` does not exist", path))
}

func (c *Config) GetString(path string) string {
	if val, ok := (*c)[path]; ok {
		val.checkType(cfgValType_String)
		return val.asString
	}
	panic(fmt.Sprintf("String setting `%s` does not exist", path))
}

// yamlConfigDoc is the on-disk shape accepted by LoadYAML: a flat map of
// scalars under three known sections. Unknown sections/keys are ignored so
// that older config files keep loading after new knobs are added.
type yamlConfigDoc struct {
	GC struct {
		Threshold int `yaml:"threshold"`
	} `yaml:"gc"`
	VM struct {
		MaxDepth           int `yaml:"max_depth"`
		EqualityDepthLimit int `yaml:"equality_depth_limit"`
	} `yaml:"vm"`
	Compiler struct {
		Optimize int  `yaml:"optimize"`
		Closures bool `yaml:"closures"`
	} `yaml:"compiler"`
}

// LoadYAML reads tuning knobs from a YAML document and applies them on top
// of the receiver's current values. It never removes a key that the
// document doesn't mention.
func (c *Config) LoadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("lily: reading config %q: %w", path, err)
	}
	var doc yamlConfigDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("lily: parsing config %q: %w", path, err)
	}
	if doc.GC.Threshold > 0 {
		c.SetInt("gc.threshold", doc.GC.Threshold)
	}
	if doc.VM.MaxDepth > 0 {
		c.SetInt("vm.max_depth", doc.VM.MaxDepth)
	}
	if doc.VM.EqualityDepthLimit > 0 {
		c.SetInt("vm.equality_depth_limit", doc.VM.EqualityDepthLimit)
	}
	if doc.Compiler.Optimize > 0 {
		c.SetInt("compiler.optimize", doc.Compiler.Optimize)
	}
	if doc.Compiler.Closures {
		c.SetBool("compiler.closures", true)
	}
	return nil
}
