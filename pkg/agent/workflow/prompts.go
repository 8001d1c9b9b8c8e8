package workflow

import (
	"fmt"
	"strings"

	"github.com/zju-rshub/rsagent/pkg/config"
)

const scenarioClassifySystem = `你是RSHub建模专家。请判断用户想要进行哪种场景的建模。
场景类型：
0: 雪地（Snow）- 使用DMRT-QMS或DMRT-BIC模型
1: 土壤（Soil）- 使用AIEM模型
2: 植被（Vegetation）- 使用VPRT模型

如果用户同时提到多种场景、指定不支持的场景或请求不明确，返回-1。
请在最后一行单独输出对应的数字。`

func scenarioClassifyPrompt(message string) (human, system string) {
	human = fmt.Sprintf("用户要求：%s\n上传文件：无文件上传\n\n请判断用户想要进行哪种场景的建模，在最后一行单独输出对应的数字（0/1/2/-1）。", message)
	return human, scenarioClassifySystem
}

const modelSelectSystem = `你是RSHub建模专家。根据用户需求判断应使用的模型。

雪地场景：
- 默认使用QMS模型
- 如果用户明确提到BIC，则使用BIC模型

土壤场景：
- 只有AIEM模型

植被场景：
- 只有VPRT(RT)模型

请在最后一行输出模型名称（QMS/BIC/AIEM/RT）。`

func modelSelectPrompt(scenarioDisplay, message string) (human, system string) {
	human = fmt.Sprintf("场景类型：%s\n用户要求：%s\n\n请判断应使用的模型，在最后一行单独输出模型名称。", scenarioDisplay, message)
	return human, modelSelectSystem
}

const observationModeSystem = `你是RSHub建模专家。根据场景和用户需求判断需要的观测模式。

观测模式类型：
- active (bs): 主动模式，后向散射
- passive (tb): 被动模式，亮温

不同场景的规则：
- 雪地：支持active和passive，默认只创建passive
- 土壤：同时计算active和passive，只需一个任务
- 植被：目前只支持passive

输出格式：['active', 'passive'] 或 ['passive'] 或 ['active']`

func observationModePrompt(scenarioName, message string) (human, system string) {
	human = fmt.Sprintf("场景类型：%s\n用户要求：%s\n\n请判断需要的观测模式，在最后一行输出列表格式，如：['passive'] 或 ['active', 'passive']", scenarioName, message)
	return human, observationModeSystem
}

const paramGenSystemTemplate = `你是RSHub建模专家。请根据用户的输入和参数说明，生成填充参数的JSON文档。

重要规则：
1. 只修改用户明确指定的参数，其他参数保持默认值
2. 必须生成扁平的data字典结构，不要使用嵌套的params子字典
3. 注意不同场景的参数差异
4. JSON必须包含在` + "```json和```" + `标记之间
5. output_var参数必须使用字符串：'tb'表示被动模式，'bs'表示主动模式
6. 不要在JSON中包含token参数，token会自动添加
7. 多参数处理：如果用户要求分析多个参数值，必须为每个参数值组合生成独立的data字典，使用data1、data2、data3...等键名（第一个可以用data）

场景：%s
模型：%s
观测模式：%s`

func paramGenPrompt(scenario *config.ScenarioConfig, model string, modes []string, message string) (human, system string) {
	system = fmt.Sprintf(paramGenSystemTemplate, scenario.DisplayName, model, strings.Join(modes, ", "))

	var doc strings.Builder
	doc.WriteString("参数说明：\n")
	for name, spec := range scenario.Params {
		fmt.Fprintf(&doc, "- %s (%s", name, spec.Type)
		if spec.Required {
			doc.WriteString(", 必需")
		}
		if spec.Min != nil {
			fmt.Fprintf(&doc, ", 最小值 %v", *spec.Min)
		}
		if spec.Max != nil {
			fmt.Fprintf(&doc, ", 最大值 %v", *spec.Max)
		}
		if spec.Description != "" {
			fmt.Fprintf(&doc, "): %s\n", spec.Description)
		} else {
			doc.WriteString(")\n")
		}
	}

	human = fmt.Sprintf(`用户要求：%s

%s
请生成填充参数的JSON文档。

输出格式示例：
`+"```json"+`
{
  "data": {
    "output_var": "tb",
    "fGHz": %v
  }
}
`+"```"+`

请在回答结尾输出JSON文档，用`+"```json和```"+`括起。`, message, doc.String(), scenario.DefaultFrequencyGHz)
	return human, system
}

const paramFixSystem = `你是RSHub调试专家。请分析任务提交失败的原因并提供修复后的参数JSON文档。
常见错误类型：
1. 参数类型错误（如应该是列表但提供了单个值，或应该是单个值但提供了列表）
2. 参数超出有效范围
3. 必需参数缺失
4. 参数格式错误

修正后的JSON文档用` + "```json和```" + `括起。`

func paramFixPrompt(errorMessage, originalDoc, scenarioName string) (human, system string) {
	human = fmt.Sprintf("错误信息：%s\n原始参数文档：%s\n场景类型：%s\n\n请分析错误原因并提供修正后的JSON文档。修正后的JSON用```json和```括起。",
		errorMessage, originalDoc, scenarioName)
	return human, paramFixSystem
}

const taskSummarySystem = `你是RSHub建模专家。请总结刚刚完成的建模任务。
总结应包括：
1. 模拟的场景类型
2. 使用的模型
3. 观测模式
4. 修改的参数（只列出非默认值的参数）
5. 任务执行状态
6. 生成的结果说明`

func taskSummaryPrompt(scenarioDisplay, modelDisplay string, modes []string, modifiedParams, taskStatus, errorInfo string) (human, system string) {
	human = fmt.Sprintf(`任务信息：
场景：%s
模型：%s
观测模式：%s
修改的参数：%s
任务状态：%s
错误信息（如有）：%s

请生成简洁的任务总结。`, scenarioDisplay, modelDisplay, strings.Join(modes, ", "), modifiedParams, taskStatus, errorInfo)
	return human, taskSummarySystem
}

const taskExtractionSystem = `你是RSHub任务管理专家。请根据用户的当前请求和会话历史，精确确定用户想要获取结果的具体任务。

重要匹配规则：
1. 场景类型匹配是最高优先级，必须严格匹配：
   - 雪地/雪/snow 关键词 → 只能匹配项目名称包含"snow"的任务
   - 土壤/soil 关键词 → 只能匹配项目名称包含"soil"的任务
   - 植被/vegetation/veg 关键词 → 只能匹配项目名称包含"veg"的任务
   - 绝对禁止：雪地请求匹配植被任务，土壤请求匹配雪地任务等交叉匹配

2. 模型匹配作为次要条件：
   - BIC/bic → 项目名称包含"bic"
   - QMS/qms → 项目名称包含"qms"
   - VPRT/RT/rt → 项目名称包含"rt"

3. 时间指示词：
   - 最近/最新/刚才/刚刚 → 时间戳最晚的任务
   - 第一个/之前的/早期 → 时间戳最早的任务

4. 严格验证：
   - 在输出项目名称前，必须验证该项目的场景类型是否与用户请求匹配
   - 如果场景类型不匹配，必须输出"NOT_FOUND"

输出格式：输出完整的项目名称（project_name），如果无法确定或场景不匹配则输出"NOT_FOUND"。`

func taskExtractionPrompt(message, candidates string) (human, system string) {
	human = fmt.Sprintf(`用户当前请求：%s

会话历史和可选任务：
%s

请严格按照以下步骤分析：
1. 提取用户请求中的场景关键词和模型关键词
2. 在可选任务列表中先按场景类型筛选，再按模型类型筛选，最后按时间顺序选择
3. 确认选中的任务场景类型与用户请求一致，不一致则输出"NOT_FOUND"

请在最后一行输出目标任务的项目名称（project_name）。`, message, candidates)
	return human, taskExtractionSystem
}
