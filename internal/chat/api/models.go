package chatapi

import "time"

type startChatRequest struct {
	OtherUserID string `json:"other_user_id"`
}

type partnerResponse struct {
	ID       string  `json:"id"`
	Name     string  `json:"name"`
	Email    string  `json:"email"`
	PhotoURL *string `json:"photo_url,omitempty"`
}

type chatResponse struct {
	ChatID    string          `json:"chat_id"`
	Partner   partnerResponse `json:"partner"`
	CreatedAt time.Time       `json:"created_at"`
}

type chatListResponse struct {
	Chats []chatResponse `json:"chats"`
}

type searchResponse struct {
	Users []partnerResponse `json:"users"`
}

type messageResponse struct {
	ID        string    `json:"id"`
	ChatID    string    `json:"chat_id"`
	SenderID  string    `json:"sender_id"`
	Text      string    `json:"text,omitempty"`
	MediaType string    `json:"media_type,omitempty"`
	MediaURL  string    `json:"media_url,omitempty"`
	ServerTS  time.Time `json:"server_ts"`
}

type historyResponse struct {
	ChatID   string            `json:"chat_id"`
	Messages []messageResponse `json:"messages"`
}

type uploadResponse struct {
	MediaURL  string `json:"media_url"`
	MediaType string `json:"media_type"`
}
