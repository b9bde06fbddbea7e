package scheduler

import "strings"

// LabelDelimiter separates a thread group name from its state in the label
// the scheduler reports, e.g. "Caesium-2:Started".
const LabelDelimiter = ":"

// SplitThreadGroupName splits a reported thread group label into the group
// name and its state. The split happens at the last delimiter and both parts
// are trimmed. A label without a delimiter is returned whole as the group.
func SplitThreadGroupName(label string) (group, state string) {
	idx := strings.LastIndex(label, LabelDelimiter)
	if idx == -1 {
		return label, ""
	}
	return strings.TrimSpace(label[:idx]), strings.TrimSpace(label[idx+len(LabelDelimiter):])
}
