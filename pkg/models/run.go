package models

// RunTask is one submitted simulation task within a run.
type RunTask struct {
	Name      string `json:"name"`
	OutputVar string `json:"output_var"`
}

// RunDescriptor is the structured record of one simulation submission. It
// is embedded as a fenced JSON block inside the assistant's response text
// and later recovered from conversation history by the retrieval workflow,
// so its field names are part of the wire contract.
type RunDescriptor struct {
	ProjectName      string           `json:"project_name"`
	ScenarioInfo     string           `json:"scenario_info"`
	ModelName        string           `json:"model_name"`
	ObservationModes []string         `json:"observation_modes"`
	Tasks            []RunTask        `json:"tasks"`
	DataDicts        []map[string]any `json:"data_dicts"`
	Timestamp        string           `json:"timestamp"`
}

// Complete reports whether every field required to retrieve results later
// is populated.
func (r *RunDescriptor) Complete() bool {
	return r.ProjectName != "" &&
		r.ScenarioInfo != "" &&
		r.ModelName != "" &&
		len(r.ObservationModes) > 0 &&
		len(r.Tasks) > 0 &&
		len(r.DataDicts) > 0
}
