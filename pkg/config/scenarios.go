package config

// ParamSpec describes one scenario parameter for validating LLM-generated
// parameter documents before submission.
type ParamSpec struct {
	Type        string   `yaml:"type"` // number | integer | string | boolean
	Required    bool     `yaml:"required"`
	Min         *float64 `yaml:"min,omitempty"`
	Max         *float64 `yaml:"max,omitempty"`
	Description string   `yaml:"description,omitempty"`
}

// ScenarioConfig describes one simulation problem family.
type ScenarioConfig struct {
	Flag                int                  `yaml:"flag"`
	Name                string               `yaml:"name"`
	DisplayName         string               `yaml:"display_name"`
	Models              []string             `yaml:"models"`
	DefaultFrequencyGHz float64              `yaml:"default_frequency_ghz"`
	Params              map[string]ParamSpec `yaml:"params"`
}

// DefaultModel returns the scenario's first (preferred) model.
func (s *ScenarioConfig) DefaultModel() string {
	if len(s.Models) == 0 {
		return ""
	}
	return s.Models[0]
}

// ScenarioRegistry resolves scenarios by name or flag and models by
// identifier.
type ScenarioRegistry struct {
	scenarios map[string]*ScenarioConfig
	byFlag    map[int]*ScenarioConfig
	modelName map[string]string
}

// NewScenarioRegistry builds a registry from scenario configs and a model
// identifier → display name table.
func NewScenarioRegistry(scenarios map[string]*ScenarioConfig, modelNames map[string]string) *ScenarioRegistry {
	r := &ScenarioRegistry{
		scenarios: scenarios,
		byFlag:    make(map[int]*ScenarioConfig, len(scenarios)),
		modelName: modelNames,
	}
	for _, sc := range scenarios {
		r.byFlag[sc.Flag] = sc
	}
	return r
}

// ByName returns the scenario with the given short name (snow, soil, veg).
func (r *ScenarioRegistry) ByName(name string) (*ScenarioConfig, bool) {
	sc, ok := r.scenarios[name]
	return sc, ok
}

// ByFlag returns the scenario with the given integer flag.
func (r *ScenarioRegistry) ByFlag(flag int) (*ScenarioConfig, bool) {
	sc, ok := r.byFlag[flag]
	return sc, ok
}

// ModelDisplayName returns the human-readable name for a model identifier,
// falling back to the identifier itself.
func (r *ScenarioRegistry) ModelDisplayName(model string) string {
	if name, ok := r.modelName[model]; ok {
		return name
	}
	return model
}

// Names returns all scenario short names.
func (r *ScenarioRegistry) Names() []string {
	names := make([]string, 0, len(r.scenarios))
	for name := range r.scenarios {
		names = append(names, name)
	}
	return names
}

// ParamKeys returns the union of all known scenario parameter keys, used to
// recognize parameter maps inside loosely-structured LLM output.
func (r *ScenarioRegistry) ParamKeys() map[string]bool {
	keys := make(map[string]bool)
	for _, sc := range r.scenarios {
		for k := range sc.Params {
			keys[k] = true
		}
	}
	return keys
}

func float64Ptr(v float64) *float64 { return &v }

// builtinScenarios returns the built-in scenario registry contents. User
// YAML overrides merge on top of these.
func builtinScenarios() map[string]*ScenarioConfig {
	return map[string]*ScenarioConfig{
		"snow": {
			Flag:                0,
			Name:                "snow",
			DisplayName:         "雪地",
			Models:              []string{"qms", "bic"},
			DefaultFrequencyGHz: 17.2,
			Params: map[string]ParamSpec{
				"fGHz":     {Type: "number", Required: true, Min: float64Ptr(1), Max: float64Ptr(200), Description: "frequency in GHz"},
				"depth":    {Type: "number", Min: float64Ptr(0), Description: "snowpack depth in cm"},
				"scatters": {Type: "number", Min: float64Ptr(0), Description: "scatterer volume fraction"},
				"angle":    {Type: "number", Min: float64Ptr(0), Max: float64Ptr(90), Description: "observation angle in degrees"},
			},
		},
		"soil": {
			Flag:                1,
			Name:                "soil",
			DisplayName:         "土壤",
			Models:              []string{"aiem"},
			DefaultFrequencyGHz: 1.26,
			Params: map[string]ParamSpec{
				"fGHz":        {Type: "number", Required: true, Min: float64Ptr(0.1), Max: float64Ptr(100), Description: "frequency in GHz"},
				"sm":          {Type: "number", Min: float64Ptr(0), Max: float64Ptr(1), Description: "volumetric soil moisture"},
				"theta_i_deg": {Type: "number", Min: float64Ptr(0), Max: float64Ptr(90), Description: "incidence angle in degrees"},
				"ks":          {Type: "number", Min: float64Ptr(0), Description: "normalized rms height"},
				"kl":          {Type: "number", Min: float64Ptr(0), Description: "normalized correlation length"},
			},
		},
		"veg": {
			Flag:                2,
			Name:                "veg",
			DisplayName:         "植被",
			Models:              []string{"rt"},
			DefaultFrequencyGHz: 1.41,
			Params: map[string]ParamSpec{
				"fGHz":        {Type: "number", Required: true, Min: float64Ptr(0.1), Max: float64Ptr(100), Description: "frequency in GHz"},
				"theta_i_deg": {Type: "number", Min: float64Ptr(0), Max: float64Ptr(90), Description: "incidence angle in degrees"},
				"depth":       {Type: "number", Min: float64Ptr(0), Description: "canopy depth in m"},
				"scatters":    {Type: "number", Min: float64Ptr(0), Description: "scatterer number density"},
			},
		},
	}
}

// builtinModelNames maps model identifiers to display names.
func builtinModelNames() map[string]string {
	return map[string]string{
		"qms":  "DMRT-QMS",
		"bic":  "DMRT-BIC",
		"aiem": "AIEM",
		"rt":   "VPRT",
	}
}
