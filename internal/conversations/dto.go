package conversations

import "time"

type CreateRequest struct {
	Title string `json:"title"`
}

type ConversationResponse struct {
	ConversationID string    `json:"conversationId"`
	Title          string    `json:"title"`
	MessageCount   int       `json:"messageCount"`
	LastMessage    string    `json:"lastMessage,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

type MessageResponse struct {
	MessageID string    `json:"messageId"`
	Seq       int64     `json:"seq"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Sources   []Source  `json:"sources,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

type ListResponse struct {
	Conversations []ConversationResponse `json:"conversations"`
	Limit         int                    `json:"limit"`
	Offset        int                    `json:"offset"`
}

type DetailResponse struct {
	ConversationResponse
	Messages []MessageResponse `json:"messages"`
}

type MessagesResponse struct {
	ConversationID string            `json:"conversationId"`
	Messages       []MessageResponse `json:"messages"`
	Limit          int               `json:"limit"`
	Offset         int               `json:"offset"`
}

func ToResponse(conv Conversation) ConversationResponse {
	return ConversationResponse{
		ConversationID: conv.ID,
		Title:          conv.Title,
		MessageCount:   conv.MessageCount,
		LastMessage:    conv.LastMessage,
		CreatedAt:      conv.CreatedAt,
		UpdatedAt:      conv.UpdatedAt,
	}
}

func toMessages(msgs []Message) []MessageResponse {
	out := make([]MessageResponse, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, MessageResponse{
			MessageID: m.ID,
			Seq:       m.Seq,
			Role:      m.Role,
			Content:   m.Content,
			Sources:   m.Sources,
			CreatedAt: m.CreatedAt,
		})
	}
	return out
}
