package core

import (
	"fmt"
	"strings"
)

// ValidateChatTask validates a ChatTask according to admission rules.
//
// Validation rules:
//   - TaskID, BotID and SessionID must not be empty
//   - Query must not be blank
//   - every history message must have a known role
//
// VisitorProfile is optional.
func ValidateChatTask(task *ChatTask) error {
	if task == nil {
		return fmt.Errorf("%w: task is nil", ErrInvalidTask)
	}

	for name, value := range map[string]string{
		"task_id":    task.TaskID,
		"bot_id":     task.BotID,
		"session_id": task.SessionID,
	} {
		if strings.TrimSpace(value) == "" {
			return fmt.Errorf("%w: %w: %s", ErrInvalidTask, ErrMissingIdentifier, name)
		}
	}

	if strings.TrimSpace(task.Query) == "" {
		return fmt.Errorf("%w: %w", ErrInvalidTask, ErrEmptyContent)
	}

	for i, msg := range task.ConversationHistory {
		if err := ValidateRole(msg.Role); err != nil {
			return fmt.Errorf("%w: history[%d]: %w", ErrInvalidTask, i, err)
		}
	}

	return nil
}

// ValidateChunk validates a Chunk before it is stored.
//
// Validation rules:
//   - Content must not be empty
//   - ChunkIndex must not be negative
//
// NOT validated (populated by processors):
//   - Vector (can be empty until embedded)
//   - Score (assigned at search time)
func ValidateChunk(chunk *Chunk) error {
	if chunk == nil {
		return fmt.Errorf("%w: chunk is nil", ErrInvalidChunk)
	}
	if strings.TrimSpace(chunk.Content) == "" {
		return fmt.Errorf("%w: %w", ErrInvalidChunk, ErrEmptyContent)
	}
	if chunk.ChunkIndex < 0 {
		return fmt.Errorf("%w: negative chunk index %d", ErrInvalidChunk, chunk.ChunkIndex)
	}
	return nil
}

// ValidateRole validates that a Role has a known value.
func ValidateRole(role Role) error {
	switch role {
	case RoleUser, RoleAssistant, RoleSystem:
		return nil
	}
	return fmt.Errorf("%w: %q", ErrInvalidRole, role)
}

// ValidateProgress checks a progress percentage.
func ValidateProgress(progress int) error {
	if progress < 0 || progress > 100 {
		return fmt.Errorf("%w: got %d", ErrInvalidProgress, progress)
	}
	return nil
}
