package analysis

import (
	"strings"

	"github.com/MrWong99/hearken/internal/convo"
)

// DefaultTemplate is the scene classification instruction sent ahead of the
// conversation history. It asks for one of three scenes and a fenced JSON
// object with the Chinese keys accepted by [ParseReply].
const DefaultTemplate = `你是一个专业的场景识别AI助手。请根据用户输入的语音识别内容，从以下3个预定义场景中选择最匹配的场景，并返回结构化信息。

预定义场景列表：
1. 校园暴力 - 涉及学校环境中的欺凌、威胁、身体伤害、恐吓、强迫等暴力行为或相关求助信号
2. 医嘱信息 - 医生在医院环境中给出的治疗建议、用药指导、注意事项、复诊安排等医疗相关指示
3. 日常交流 - 普通对话、闲聊、一般性咨询、学习工作等非紧急情况

场景识别关键词参考：
- 校园暴力：打、踢、威胁、欺负、不敢说、害怕、同学、老师、学校、霸凌、恐吓、强迫、伤害
- 医嘱信息：医生说、要吃药、按时服用、注意、禁止、复查、检查、治疗、剂量、副作用、医院
- 日常交流：其他所有不涉及上述两种紧急情况的内容

请严格按照以下JSON格式返回结果，并放在 ` + "```json" + ` 代码块中：
{
    "场景": "[校园暴力/医嘱信息/日常交流]",
    "信息": "[核心内容摘要，不超过40字]",
    "紧急程度": "[低/中/高]",
    "建议行动": "[针对性的具体建议]"
}

特殊处理规则：
- 校园暴力：紧急程度标记为"高"，建议行动包含"立即寻求帮助"、"告知可信任的成年人"等
- 医嘱信息：按医嘱重要性标记紧急程度，提取关键用药信息、注意事项，建议行动包含"严格遵医嘱"等
- 日常交流：紧急程度标记为"低"，给出常规性建议或回应

注意：
- 优先保障人身安全，校园暴力场景务必触发预警
- 医嘱信息要准确提取重要医疗指导内容
- 信息字段要简洁准确，突出核心要点

对话历史之后是需要分析的最新语音识别内容。`

// historyHeader introduces the rendered conversation window.
const historyHeader = "Conversation history:"

// BuildPrompt assembles the reasoning request: the template, the rendered
// history window in chronological order, then the new utterance last.
//
// history must not already contain utterance.
func BuildPrompt(template string, history []convo.Message, utterance string) string {
	var b strings.Builder
	b.WriteString(template)
	b.WriteString("\n\n")
	b.WriteString(historyHeader)
	b.WriteString("\n")
	b.WriteString(convo.RenderWindow(history))
	b.WriteString("\n\n")
	b.WriteString(utterance)
	return b.String()
}
