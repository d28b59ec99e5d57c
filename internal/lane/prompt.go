package lane

import (
	"fmt"
	"strings"

	"github.com/lanehive/lanehive/internal/types"
)

// completionMarker is the token the wrapped prompt asks the agent to
// emit literally when a task is fully done. The Lane Runner does not
// look for it; a task's success is read from the structured result JSON.
const completionMarker = "### LANEHIVE_TASK_COMPLETE ###"

// buildPrompt wraps a task's raw prompt with lane context and the
// completion-marker/dependency-request instructions the agent needs to
// participate in the orchestration protocol.
func buildPrompt(task types.TaskSpec, laneLabel string, continuePrompt bool, stronger bool) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are working on lane %q, task %q.\n\n", laneLabel, task.Name)
	b.WriteString(task.Prompt)
	b.WriteString("\n\n")

	if continuePrompt {
		if stronger {
			b.WriteString("You have gone quiet. Finish the current task now and report status. ")
			b.WriteString("If you are stuck, explain exactly what is blocking you instead of retrying silently.\n\n")
		} else {
			b.WriteString("Continue the task above.\n\n")
		}
	}

	fmt.Fprintf(&b, "When the task is fully complete, output the line %q on its own. ", completionMarker)
	b.WriteString("If you need a dependency added, upgraded, or removed and cannot make that change yourself, ")
	b.WriteString("write a file named dependency-request.json in the workspace's .lanehive directory describing the reason and ")
	b.WriteString("commands needed, instead of modifying lockfiles directly.\n")
	return b.String()
}
