package trial

import "strings"

// Tasks is the ordered protocol task list. Block 5 carries spare slots so an
// interrupted session can continue in the same participant directory.
var Tasks = []string{
	"1.1", "1.2", "1.3",
	"2.1", "2.2", "2.3",
	"3.1", "3.2", "3.3", "3.4",
	"4.1", "4.2", "4.3",
	"5.1", "5.2", "5.3", "5.4", "5.5", "5.6", "5.7", "5.8", "5.9",
}

// TaskName returns the display name for a 1-based task index. Index 0 is
// "None" and anything past the list is "Complete".
func TaskName(index int) string {
	switch {
	case index <= 0:
		return "None"
	case index > len(Tasks):
		return "Complete"
	default:
		return Tasks[index-1]
	}
}

// FileKey returns the file-friendly recording key for a task index.
func FileKey(index int) string {
	return strings.ReplaceAll(TaskName(index), ".", "_")
}
