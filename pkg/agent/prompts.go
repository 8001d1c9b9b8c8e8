package agent

import (
	"fmt"
	"strings"

	"github.com/zju-rshub/rsagent/pkg/models"
)

// noFileInfo is the placeholder used when a turn carries no uploaded file.
const noFileInfo = "无文件上传"

// FormatHistory renders chat history into the form the prompts expect.
func FormatHistory(messages []models.ChatMessage) string {
	if len(messages) == 0 {
		return "无历史对话记录"
	}
	lines := make([]string, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case models.RoleUser:
			lines = append(lines, "用户: "+msg.Content)
		case models.RoleAssistant:
			lines = append(lines, "AI助手: "+msg.Content)
		default:
			lines = append(lines, msg.Role+": "+msg.Content)
		}
	}
	return strings.Join(lines, "\n")
}

const classificationSystem = "你是一个任务分类专家，请根据用户的输入判断他们想要执行的任务类型。"

const classificationHistorySystem = "你是一个任务分类专家，请根据用户的输入和之前的对话历史判断他们想要执行的任务类型。"

const classificationBody = `根据用户的要求 "%s"，推断他希望执行的任务，并归类为以下几种任务之一：

1: 询问知识（如：什么是机器学习？如何种植番茄？地球的结构是怎样的？介绍一下量子物理的基本概念？）
2: 提交RSHub建模任务（如：请根据这些土壤参数生成微波遥感数据；帮我建立一个雪地散射模型）
3: 获取RSHub任务结果（如：请获取刚才计算任务的结果并为我可视化；刚才提交的任务完成了吗；请帮我分析之前的建模结果）

请分析用户的意图，并在最后一行单独输出任务对应的编号。
如果不属于任何任务类型，在最后一行单独输出数字"-1"。
`

func classificationPrompt(message, history string) (human, system string) {
	var b strings.Builder
	fmt.Fprintf(&b, classificationBody, message)
	if history != "" {
		fmt.Fprintf(&b, "\n以下是之前的对话历史（用于理解上下文）：\n%s\n", history)
		fmt.Fprintf(&b, "\n当前用户输入：%s\n上传文件：%s\n\n请在最后一行单独输出数字。", message, noFileInfo)
		return b.String(), classificationHistorySystem
	}
	fmt.Fprintf(&b, "\n用户输入：%s\n上传文件：%s\n\n请在最后一行单独输出数字。", message, noFileInfo)
	return b.String(), classificationSystem
}

const keywordSystem = `你是微波遥感领域的专家，擅长从用户问题中提取相关的技术关键词。
请分析用户希望了解的知识点，并推断每个知识点的重要程度权重（权重总和为1）。
权重小于0.1的关键词请不要输出。

重要要求：无论用户问题是什么语言，提取的关键词必须使用英文。这是因为知识库主要包含英文文献，英文关键词能够更有效地检索到相关内容。`

func keywordPrompt(message, history string) (human, system string) {
	var b strings.Builder
	fmt.Fprintf(&b, "请根据用户的问题 \"%s\"，提取相关的关键词。\n\n", message)
	b.WriteString("重要：提取的关键词必须是英文，即使用户问题是中文。请将相关概念转换为标准的英文技术术语。\n\n")
	if history != "" {
		fmt.Fprintf(&b, "以下是之前的对话历史（用于理解上下文）：\n%s\n\n当前用户问题：%s\n", history, message)
	}
	b.WriteString("请在最后一行输出关键词及其权重，格式为：[(keyword1, weight1), (keyword2, weight2), ...]\n\n")
	fmt.Fprintf(&b, "用户问题：%s\n上传文件：%s\n\n请分析并在最后一行输出英文关键词权重列表。", message, noFileInfo)
	return b.String(), keywordSystem
}

const validationSystem = `你是微波遥感领域的专家，请判断检索到的知识库内容是否与用户问题相关。
判断标准应该宽松：只要内容涉及用户问题的主要概念，即使是具体应用、案例研究或专业细节，都应该认为是有用的。
如果检索到的内容与用户问题的主题相关，输出"0"。
只有完全无关的内容才输出"-1"。`

func validationPrompt(message, retrieved, history string) (human, system string) {
	var b strings.Builder
	if history != "" {
		fmt.Fprintf(&b, "以下是之前的对话历史（用于理解上下文）：\n%s\n\n当前", history)
	}
	fmt.Fprintf(&b, "用户问题：%s\n从知识库检索到的内容：%s\n\n", message, retrieved)
	b.WriteString(`请使用宽松的标准判断：
- 如果内容涉及用户问题的核心概念（即使是专业应用、技术细节或特定场景），都认为是相关和有用的
- 如果内容可以帮助用户理解相关概念或提供相关信息，都应该通过验证
- 只有完全无关的内容（如完全不同的主题）才判断为不相关

如果检索到的内容与用户问题主题相关，在最后一行单独输出数字"0"。
只有完全无关的内容才输出数字"-1"。

请在最后一行单独输出0或-1。`)
	return b.String(), validationSystem
}

const finalAnswerSystem = `你是微波遥感领域的专家，请基于提供的知识库内容为用户提供准确、专业的回答。
回答应该：
1. 直接针对用户问题
2. 基于检索到的专业知识
3. 语言清晰易懂
4. 结构化组织`

func finalAnswerPrompt(message, retrieved, history string) (human, system string) {
	var b strings.Builder
	if history != "" {
		fmt.Fprintf(&b, "以下是之前的对话历史（用于理解上下文）：\n%s\n\n当前", history)
	}
	fmt.Fprintf(&b, "用户问题：%s\n上传文件信息：%s\n知识库检索内容：%s\n\n", message, noFileInfo, retrieved)
	b.WriteString("请基于检索到的知识库内容，为用户问题提供详细、准确的回答。\n\n请提供完整的回答：")
	return b.String(), finalAnswerSystem
}

const generalSystem = `你是微波遥感领域的专家助手，请根据用户的问题提供专业、准确的回答。
如果问题不在你的专业领域内，请诚实地说明并尽可能提供相关的建议或指导。`

func generalPrompt(message, history string) (human, system string) {
	var b strings.Builder
	if history != "" {
		fmt.Fprintf(&b, "以下是之前的对话历史（用于理解上下文）：\n%s\n\n当前", history)
	}
	fmt.Fprintf(&b, "用户问题：%s\n上传文件信息：%s\n\n请为用户问题提供专业的回答。", message, noFileInfo)
	return b.String(), generalSystem
}

const fallbackAnswerSystem = `你是一个知识渊博、友好的AI助手，能够回答各个领域的问题。
请根据你的知识为用户提供准确、有帮助的回答。
回答应该：
1. 针对用户问题直接回答
2. 结构清晰，容易理解
3. 如果涉及专业概念，请用通俗易懂的语言解释
4. 如果不确定某些信息，请诚实说明`

func fallbackAnswerPrompt(message string) (human, system string) {
	human = fmt.Sprintf("用户问题：%s\n上传文件信息：%s\n\n请基于你的知识为用户问题提供详细、准确的回答。\n\n请提供完整的回答：", message, noFileInfo)
	return human, fallbackAnswerSystem
}
