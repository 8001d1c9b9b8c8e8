package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/zju-rshub/rsagent/pkg/billing"
	"github.com/zju-rshub/rsagent/pkg/config"
	"github.com/zju-rshub/rsagent/pkg/metrics"
	"github.com/zju-rshub/rsagent/pkg/models"
	"github.com/zju-rshub/rsagent/pkg/progress"
	"github.com/zju-rshub/rsagent/pkg/rshub"
)

// maxSubmitRetries bounds the LLM-corrected regeneration loop after a
// validation or submission failure.
const maxSubmitRetries = 2

// descriptorMarker prefixes the fenced JSON run descriptor inside the
// response text. The retrieval workflow scans history for it.
const descriptorMarker = "**任务详细信息**"

// ErrAmbiguousScenario is returned when the LLM cannot pin the request to
// one supported scenario.
var ErrAmbiguousScenario = errors.New("无法确定建模场景类型，请明确指定雪地、土壤或植被之一")

// Submitter runs the submission workflow: scenario analysis, parameter
// document generation, task construction, and submission with corrected
// retries.
type Submitter struct {
	rshub    rshub.Client
	registry *config.ScenarioRegistry
	tracker  *billing.Tracker
	reporter Reporter
}

// NewSubmitter wires the submission workflow.
func NewSubmitter(client rshub.Client, registry *config.ScenarioRegistry, tracker *billing.Tracker, reporter Reporter) *Submitter {
	return &Submitter{rshub: client, registry: registry, tracker: tracker, reporter: reporter}
}

// Run executes one submission. The returned outcome carries the response
// text with the embedded run descriptor.
func (s *Submitter) Run(ctx context.Context, in *Input) (*Outcome, error) {
	s.reporter.Publish(in.SessionID, "正在分析任务类型...", models.StageProcessing,
		map[string]any{"step": 1, "total_steps": 4})

	scenario, err := s.classifyScenario(ctx, in)
	if err != nil {
		return nil, err
	}
	if s.reporter.Aborted(in.SessionID) {
		return nil, progress.ErrAborted
	}

	model, err := s.selectModel(ctx, in, scenario)
	if err != nil {
		return nil, err
	}
	modes, err := s.observationModes(ctx, in, scenario)
	if err != nil {
		return nil, err
	}
	if s.reporter.Aborted(in.SessionID) {
		return nil, progress.ErrAborted
	}

	timestamp := runTimestamp(time.Now())
	projectName := fmt.Sprintf("%s-%s-%s", scenario.Name, model, timestamp)

	s.reporter.Publish(in.SessionID, "正在解析并生成参数代码...", models.StageLLMCall,
		map[string]any{"step": 2, "total_steps": 4})

	doc, err := s.generateParameterDoc(ctx, in, scenario, model, modes)
	if err != nil {
		return nil, err
	}

	tasks, dataDicts, err := s.submitWithRetries(ctx, in, scenario, model, modes, projectName, timestamp, doc)
	if err != nil {
		return nil, err
	}

	descriptor := &models.RunDescriptor{
		ProjectName:      projectName,
		ScenarioInfo:     scenario.Name,
		ModelName:        model,
		ObservationModes: modes,
		Tasks:            tasks,
		DataDicts:        redactedDicts(dataDicts),
		Timestamp:        timestamp,
	}

	text, err := s.composeSubmissionMessage(scenario, model, modes, descriptor)
	if err != nil {
		return nil, err
	}
	return &Outcome{Text: text, Descriptor: descriptor}, nil
}

// classifyScenario asks the LLM for the scenario flag; only the response's
// last line is consulted.
func (s *Submitter) classifyScenario(ctx context.Context, in *Input) (*config.ScenarioConfig, error) {
	human, system := scenarioClassifyPrompt(in.Message)
	response, err := in.LLM.Generate(ctx, human, system, nil)
	if err != nil {
		return nil, fmt.Errorf("scenario classification failed: %w", err)
	}

	flag, ok := lastLineInteger(response)
	if !ok {
		return nil, ErrAmbiguousScenario
	}
	scenario, found := s.registry.ByFlag(flag)
	if !found {
		return nil, ErrAmbiguousScenario
	}
	return scenario, nil
}

// selectModel picks the model for the run. Single-model scenarios skip the
// LLM; otherwise the answer is matched by substring against the scenario's
// candidates, defaulting to the first.
func (s *Submitter) selectModel(ctx context.Context, in *Input, scenario *config.ScenarioConfig) (string, error) {
	if len(scenario.Models) == 1 {
		return scenario.Models[0], nil
	}

	human, system := modelSelectPrompt(scenario.DisplayName, in.Message)
	response, err := in.LLM.Generate(ctx, human, system, nil)
	if err != nil {
		slog.Warn("Model selection LLM call failed, using default", "scenario", scenario.Name, "error", err)
		return scenario.DefaultModel(), nil
	}

	lower := strings.ToLower(response)
	for _, candidate := range scenario.Models[1:] {
		if strings.Contains(lower, candidate) {
			return candidate, nil
		}
	}
	return scenario.DefaultModel(), nil
}

// observationModes determines the run's modes. Soil always computes both
// polarisations in one combined task; vegetation only supports passive;
// snow is LLM-determined with a passive default.
func (s *Submitter) observationModes(ctx context.Context, in *Input, scenario *config.ScenarioConfig) ([]string, error) {
	switch scenario.Name {
	case "soil":
		return []string{"active_passive"}, nil
	case "veg":
		return []string{"passive"}, nil
	}

	human, system := observationModePrompt(scenario.Name, in.Message)
	response, err := in.LLM.Generate(ctx, human, system, nil)
	if err != nil {
		slog.Warn("Observation mode LLM call failed, defaulting to passive", "error", err)
		return []string{"passive"}, nil
	}
	if modes := parseModeList(response); len(modes) > 0 {
		return modes, nil
	}
	return []string{"passive"}, nil
}

// generateParameterDoc asks the LLM for the JSON parameter document.
func (s *Submitter) generateParameterDoc(ctx context.Context, in *Input, scenario *config.ScenarioConfig, model string, modes []string) (string, error) {
	human, system := paramGenPrompt(scenario, model, modes, in.Message)
	response, err := in.LLM.Generate(ctx, human, system, nil)
	if err != nil {
		return "", fmt.Errorf("parameter generation failed: %w", err)
	}
	doc, ok := ExtractJSONDocument(response)
	if !ok {
		return "", fmt.Errorf("parameter generation produced no JSON document")
	}
	return doc, nil
}

// submitWithRetries parses, validates, and submits the parameter document,
// asking the LLM to correct it after each failed round. At most
// maxSubmitRetries corrections are attempted.
func (s *Submitter) submitWithRetries(ctx context.Context, in *Input, scenario *config.ScenarioConfig, model string, modes []string, projectName, timestamp, doc string) ([]models.RunTask, []map[string]any, error) {
	paramKeys := s.registry.ParamKeys()
	var lastErr error

	for attempt := 0; attempt <= maxSubmitRetries; attempt++ {
		if attempt > 0 {
			s.reporter.Publish(in.SessionID,
				fmt.Sprintf("任务提交失败，正在重新生成参数（第%d次重试）...", attempt),
				models.StageProcessing,
				map[string]any{"step": 3, "total_steps": 4, "retry": attempt})

			corrected, err := s.correctParameterDoc(ctx, in, doc, scenario.Name, lastErr)
			if err != nil {
				return nil, nil, err
			}
			doc = corrected
		}
		if s.reporter.Aborted(in.SessionID) {
			return nil, nil, progress.ErrAborted
		}

		dataDicts, err := ParseDataDicts(doc, paramKeys)
		if err == nil {
			err = ValidateDataDicts(dataDicts, scenario)
		}
		if err != nil {
			lastErr = err
			continue
		}

		tasks := buildTasks(scenario, model, modes, len(dataDicts), timestamp)
		for i, dict := range dataDicts {
			injectSystemFields(dict, in.Token, projectName, scenario.Name, model, tasks[i])
		}

		s.reporter.Publish(in.SessionID, "正在提交RSHub计算任务...", models.StageProcessing,
			map[string]any{"step": 3, "total_steps": 4, "tasks": len(tasks)})

		if err := s.submitAll(ctx, in.SessionID, tasks, dataDicts); err != nil {
			lastErr = err
			continue
		}
		return tasks, dataDicts, nil
	}

	return nil, nil, fmt.Errorf("任务提交失败：%w", lastErr)
}

// correctParameterDoc feeds the failure back to the LLM for a corrected
// document.
func (s *Submitter) correctParameterDoc(ctx context.Context, in *Input, doc, scenarioName string, cause error) (string, error) {
	human, system := paramFixPrompt(cause.Error(), doc, scenarioName)
	response, err := in.LLM.Generate(ctx, human, system, nil)
	if err != nil {
		return "", fmt.Errorf("parameter correction failed: %w", err)
	}
	corrected, ok := ExtractJSONDocument(response)
	if !ok {
		return "", fmt.Errorf("parameter correction produced no JSON document")
	}
	return corrected, nil
}

// submitAll sends every data dict, counting each submission for billing.
// Failures are aggregated so one correction round sees them all.
func (s *Submitter) submitAll(ctx context.Context, sessionID string, tasks []models.RunTask, dataDicts []map[string]any) error {
	var failures []string
	for i, dict := range dataDicts {
		result, err := s.rshub.Submit(ctx, dict)
		if err != nil {
			failures = append(failures, fmt.Sprintf("任务 %d: %v", i+1, err))
			continue
		}
		s.tracker.AddRSHubTask(sessionID, tasks[i].Name)
		metrics.RSHubSubmissionsTotal.Inc()
		if result != rshub.SubmitSuccess {
			failures = append(failures, fmt.Sprintf("任务 %d: %s", i+1, result))
		}
	}
	if len(failures) > 0 {
		return fmt.Errorf("%s", strings.Join(failures, "\n"))
	}
	return nil
}

// buildTasks constructs one task per data dict. Soil runs one combined
// task per dict tagged "bs"; other scenarios name tasks by their first
// observation mode. A numeric index disambiguates multi-dict runs.
func buildTasks(scenario *config.ScenarioConfig, model string, modes []string, count int, timestamp string) []models.RunTask {
	if count == 0 {
		count = len(modes)
	}

	tasks := make([]models.RunTask, 0, count)
	for i := 0; i < count; i++ {
		index := ""
		if count > 1 {
			index = fmt.Sprintf("%d-", i+1)
		}

		if scenario.Name == "soil" {
			tasks = append(tasks, models.RunTask{
				Name:      fmt.Sprintf("%s-%s-%s%s", scenario.Name, model, index, timestamp),
				OutputVar: "bs",
			})
			continue
		}

		mode := "passive"
		if len(modes) > 0 {
			mode = modes[0]
		}
		outputVar := "tb"
		if strings.Contains(mode, "active") {
			outputVar = "bs"
		}
		tasks = append(tasks, models.RunTask{
			Name:      fmt.Sprintf("%s-%s-%s-%s%s", scenario.Name, model, mode, index, timestamp),
			OutputVar: outputVar,
		})
	}
	return tasks
}

// injectSystemFields completes a data dict with the submission identity
// fields the service requires.
func injectSystemFields(dict map[string]any, token, projectName, scenarioName, model string, task models.RunTask) {
	dict["token"] = token
	dict["project_name"] = projectName
	dict["task_name"] = task.Name
	dict["scenario_flag"] = scenarioName
	dict["algorithm"] = model
	dict["force_update_flag"] = 1
	dict["level_required"] = 1
	if _, ok := dict["core_num"]; !ok {
		dict["core_num"] = 2
	}
	if _, ok := dict["output_var"]; !ok {
		dict["output_var"] = task.OutputVar
	}
}

// redactedDicts copies the data dicts without the token, which must not be
// persisted into conversation history.
func redactedDicts(dicts []map[string]any) []map[string]any {
	out := make([]map[string]any, len(dicts))
	for i, dict := range dicts {
		clean := make(map[string]any, len(dict))
		for k, v := range dict {
			if k == "token" {
				continue
			}
			clean[k] = v
		}
		out[i] = clean
	}
	return out
}

// composeSubmissionMessage renders the success response with the embedded
// run descriptor.
func (s *Submitter) composeSubmissionMessage(scenario *config.ScenarioConfig, model string, modes []string, descriptor *models.RunDescriptor) (string, error) {
	payload, err := json.MarshalIndent(descriptor, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode run descriptor: %w", err)
	}

	var b strings.Builder
	b.WriteString("✅ RSHub建模任务提交成功！\n\n")
	fmt.Fprintf(&b, "**项目名称**: %s\n", descriptor.ProjectName)
	fmt.Fprintf(&b, "**场景类型**: %s (%s)\n", scenario.DisplayName, scenario.Name)
	fmt.Fprintf(&b, "**使用模型**: %s\n", s.registry.ModelDisplayName(model))
	fmt.Fprintf(&b, "**观测模式**: %s\n", strings.Join(modes, ", "))
	fmt.Fprintf(&b, "**任务数量**: %d\n\n", len(descriptor.Tasks))

	b.WriteString("**提交的任务列表**:\n")
	for i, task := range descriptor.Tasks {
		fmt.Fprintf(&b, "%d. %s\n", i+1, task.Name)
	}

	b.WriteString("\n**提示**: 任务正在RSHub服务器上计算中，通常需要几分钟到几小时完成。")
	b.WriteString("计算完成后，您可以在同一会话中询问\"请获取刚才计算任务的结果并为我可视化\"来获取结果。\n\n")

	b.WriteString(descriptorMarker + ":\n```json\n")
	b.Write(payload)
	b.WriteString("\n```")
	return b.String(), nil
}

// signedInt matches integers, including negative ones, inside free text.
var signedInt = regexp.MustCompile(`-?\d+`)

// lastLineInteger extracts the trailing integer of the response's last
// non-empty line.
func lastLineInteger(response string) (int, bool) {
	lines := strings.Split(strings.TrimSpace(response), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if line == "" {
			continue
		}
		numbers := signedInt.FindAllString(line, -1)
		if len(numbers) == 0 {
			return 0, false
		}
		value, err := strconv.Atoi(numbers[len(numbers)-1])
		if err != nil {
			return 0, false
		}
		return value, true
	}
	return 0, false
}

// parseModeList extracts the bracketed mode list from LLM output, walking
// lines bottom-up.
func parseModeList(response string) []string {
	lines := strings.Split(strings.TrimSpace(response), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := lines[i]
		start := strings.Index(line, "[")
		end := strings.Index(line, "]")
		if start < 0 || end <= start {
			continue
		}
		var modes []string
		for _, part := range strings.Split(line[start+1:end], ",") {
			mode := strings.Trim(strings.TrimSpace(part), `'" `)
			if mode != "" {
				modes = append(modes, mode)
			}
		}
		if len(modes) > 0 {
			return modes
		}
	}
	return nil
}
