package backend

import "github.com/GriffinCanCode/talkback/internal/protocol"

// Conversation is one entry of the conversation list.
type Conversation struct {
	ID           string `json:"id"`
	Title        string `json:"title"`
	CreatedAt    string `json:"created_at"`
	UpdatedAt    string `json:"updated_at"`
	MessageCount int    `json:"message_count"`
}

// HistoryMessage is a stored message as returned by the history endpoint.
type HistoryMessage struct {
	ID              string `json:"id"`
	Text            string `json:"text"`
	Sender          string `json:"sender"`
	Timestamp       string `json:"timestamp"`
	HasAttachments  bool   `json:"has_attachments"`
	AttachmentCount int    `json:"attachment_count"`
}

// Message converts to the wire message shown in the log.
func (h HistoryMessage) Message() protocol.Message {
	sender := h.Sender
	if sender == "" {
		sender = protocol.SenderAgent
	}
	return protocol.Message{ID: h.ID, Text: h.Text, Sender: sender, Timestamp: h.Timestamp}
}

type deleteResponse struct {
	Status       string `json:"status"`
	DeletedCount int    `json:"deleted_count"`
}

// UploadResult is the upload endpoint's response.
type UploadResult struct {
	Status         string `json:"status"`
	FileID         string `json:"file_id"`
	FileName       string `json:"file_name"`
	FileType       string `json:"file_type"`
	MimeType       string `json:"mime_type"`
	FilePath       string `json:"file_path"`
	HasContent     bool   `json:"has_content"`
	ContentPreview string `json:"content_preview"`
}

// Attachment is the reference sent along with a chat message.
func (u UploadResult) Attachment() protocol.Attachment {
	return protocol.Attachment{
		FileID:   u.FileID,
		FileName: u.FileName,
		FileType: u.FileType,
		MimeType: u.MimeType,
		FilePath: u.FilePath,
	}
}

type errorResponse struct {
	Detail string `json:"detail"`
	Error  string `json:"error"`
}
