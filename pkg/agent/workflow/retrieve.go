package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/zju-rshub/rsagent/pkg/config"
	"github.com/zju-rshub/rsagent/pkg/models"
	"github.com/zju-rshub/rsagent/pkg/progress"
	"github.com/zju-rshub/rsagent/pkg/rshub"
)

// taskSuccessMessage is the literal the service uses for a task whose
// error slot is clear and whose outputs load. The misspelling is part of
// the wire contract.
const taskSuccessMessage = "Jobs completed succesfully"

// systemFieldKeys are excluded from the modified-parameter diff shown in
// summaries.
var systemFieldKeys = map[string]bool{
	"token": true, "project_name": true, "task_name": true, "scenario_flag": true,
	"output_var": true, "algorithm": true, "level_required": true, "force_update_flag": true,
}

// Fetcher runs the retrieval workflow: locate a prior run in history,
// poll it to completion, check per-task errors, and summarize.
type Fetcher struct {
	rshub        rshub.Client
	registry     *config.ScenarioRegistry
	reporter     Reporter
	pollInterval time.Duration
	pollTimeout  time.Duration
}

// NewFetcher wires the retrieval workflow. pollInterval is the delay
// between completion checks; pollTimeout bounds the total wait.
func NewFetcher(client rshub.Client, registry *config.ScenarioRegistry, reporter Reporter, pollInterval, pollTimeout time.Duration) *Fetcher {
	return &Fetcher{
		rshub:        client,
		registry:     registry,
		reporter:     reporter,
		pollInterval: pollInterval,
		pollTimeout:  pollTimeout,
	}
}

// Run executes one retrieval. A run still computing after the poll budget
// returns a retry-later outcome rather than an error.
func (f *Fetcher) Run(ctx context.Context, in *Input) (*Outcome, error) {
	f.reporter.Publish(in.SessionID, "正在从会话历史中查找任务信息...", models.StageProcessing,
		map[string]any{"step": 1, "total_steps": 4})

	run, err := ExtractRun(ctx, in.LLM, in.History, in.Message)
	if err != nil {
		return nil, err
	}
	if f.reporter.Aborted(in.SessionID) {
		return nil, progress.ErrAborted
	}

	f.reporter.Publish(in.SessionID, fmt.Sprintf("正在检查任务状态: %s...", run.ProjectName),
		models.StageProcessing, map[string]any{"step": 2, "total_steps": 4})

	completed, err := f.waitForCompletion(ctx, in, run)
	if err != nil {
		return nil, err
	}
	if !completed {
		return &Outcome{Text: f.timeoutMessage(run.ProjectName)}, nil
	}

	f.reporter.Publish(in.SessionID, "正在检查任务执行结果...", models.StageProcessing,
		map[string]any{"step": 3, "total_steps": 4})

	if err := f.checkTaskErrors(ctx, in.Token, run); err != nil {
		return nil, err
	}
	if f.reporter.Aborted(in.SessionID) {
		return nil, progress.ErrAborted
	}

	f.reporter.Publish(in.SessionID, "正在生成任务总结...", models.StageLLMCall,
		map[string]any{"step": 4, "total_steps": 4})

	summary := f.summarize(ctx, in, run)

	return &Outcome{
		Text:       "✅ RSHub任务结果获取成功！\n\n" + summary,
		Descriptor: run,
	}, nil
}

// waitForCompletion polls every task until all complete, one fails, the
// budget runs out (returns false, nil), or the user aborts.
func (f *Fetcher) waitForCompletion(ctx context.Context, in *Input, run *models.RunDescriptor) (bool, error) {
	start := time.Now()
	for {
		if f.reporter.Aborted(in.SessionID) {
			return false, progress.ErrAborted
		}

		allCompleted := true
		for _, task := range run.Tasks {
			status, err := f.rshub.CheckCompletion(ctx, in.Token, run.ProjectName, task.Name)
			if err != nil {
				slog.Warn("Completion check failed", "task", task.Name, "error", err)
				allCompleted = false
				break
			}
			switch rshub.ClassifyCompletion(status) {
			case rshub.StateFailed:
				return false, fmt.Errorf("RSHub服务器任务失败: %s", task.Name)
			case rshub.StateRunning:
				allCompleted = false
			}
			if !allCompleted {
				break
			}
		}
		if allCompleted {
			return true, nil
		}

		elapsed := time.Since(start)
		if elapsed > f.pollTimeout {
			slog.Warn("Completion polling timed out",
				"project", run.ProjectName, "elapsed", elapsed.Round(time.Second))
			return false, nil
		}

		f.reporter.Publish(in.SessionID,
			fmt.Sprintf("任务执行中，已等待 %d秒...", int(elapsed.Seconds())),
			models.StageProcessing,
			map[string]any{"elapsed_seconds": int(elapsed.Seconds()), "timeout_seconds": int(f.pollTimeout.Seconds())})

		if f.reporter.Aborted(in.SessionID) {
			return false, progress.ErrAborted
		}
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(f.pollInterval):
		}
	}
}

// checkTaskErrors loads each task's error slot. A clear slot with loadable
// outputs is success; anything else not carrying the success literal fails
// the run.
func (f *Fetcher) checkTaskErrors(ctx context.Context, token string, run *models.RunDescriptor) error {
	freq := f.defaultFrequency(run.ScenarioInfo)

	for _, task := range run.Tasks {
		result, err := f.rshub.LoadResult(ctx, rshub.ResultRequest{
			Token:     token,
			Project:   run.ProjectName,
			Task:      task.Name,
			FreqGHz:   freq,
			Scenario:  run.ScenarioInfo,
			OutputVar: task.OutputVar,
		})
		if err != nil {
			return fmt.Errorf("任务 %s 结果加载失败：%w", task.Name, err)
		}

		message := result.ErrorMessage
		if message == "" {
			if len(result.Outputs) == 0 {
				return fmt.Errorf("任务 %s 执行失败：任务状态未知", task.Name)
			}
			continue
		}
		if !strings.Contains(message, taskSuccessMessage) {
			return fmt.Errorf("任务 %s 执行失败：%s", task.Name, message)
		}
	}
	return nil
}

// defaultFrequency is the scenario's configured default, used when loading
// results that are not frequency-specific.
func (f *Fetcher) defaultFrequency(scenarioName string) float64 {
	if sc, ok := f.registry.ByName(scenarioName); ok {
		return sc.DefaultFrequencyGHz
	}
	return 1.0
}

// summarize asks the LLM for a task summary over the non-system parameter
// diff. A failed call degrades to a plain completion note.
func (f *Fetcher) summarize(ctx context.Context, in *Input, run *models.RunDescriptor) string {
	scenarioDisplay := run.ScenarioInfo
	if sc, ok := f.registry.ByName(run.ScenarioInfo); ok {
		scenarioDisplay = sc.DisplayName
	}

	human, system := taskSummaryPrompt(
		scenarioDisplay,
		f.registry.ModelDisplayName(run.ModelName),
		run.ObservationModes,
		modifiedParams(run.DataDicts),
		"成功完成",
		"",
	)
	summary, err := in.LLM.Generate(ctx, human, system, nil)
	if err != nil {
		slog.Warn("Task summary LLM call failed", "error", err)
		return fmt.Sprintf("项目 %s 的全部 %d 个任务已成功完成。", run.ProjectName, len(run.Tasks))
	}
	return summary
}

// modifiedParams renders the per-task parameter diff, excluding system
// fields and capping each task at five entries.
func modifiedParams(dataDicts []map[string]any) string {
	var lines []string
	for i, dict := range dataDicts {
		keys := make([]string, 0, len(dict))
		for key := range dict {
			if !systemFieldKeys[key] {
				keys = append(keys, key)
			}
		}
		sort.Strings(keys)

		params := make([]string, 0, len(keys))
		for _, key := range keys {
			params = append(params, fmt.Sprintf("%s=%v", key, dict[key]))
		}
		if len(params) == 0 {
			continue
		}
		suffix := ""
		if len(params) > 5 {
			params = params[:5]
			suffix = "..."
		}
		lines = append(lines, fmt.Sprintf("任务%d: %s%s", i+1, strings.Join(params, ", "), suffix))
	}
	if len(lines) == 0 {
		return "使用默认参数"
	}
	return strings.Join(lines, "\n")
}

// timeoutMessage is the non-fatal still-running response.
func (f *Fetcher) timeoutMessage(projectName string) string {
	seconds := int(f.pollTimeout.Seconds())
	return fmt.Sprintf(
		"任务轮询已超时（%d秒）。\n\n项目名称：%s\n任务状态：仍在RSHub服务器上执行中\n\n您可以稍后再次请求获取任务结果，或等待任务完成后重新查询。\n建议等待3-5分钟后重新请求任务结果。",
		seconds, projectName)
}
