package main

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/GriffinCanCode/talkback/internal/connection"
	"github.com/GriffinCanCode/talkback/internal/protocol"
)

var (
	userLabel   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
	agentLabel  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("170"))
	noticeStyle = lipgloss.NewStyle().Italic(true).Foreground(lipgloss.Color("214"))
	toolStyle   = lipgloss.NewStyle().Faint(true)
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	headerStyle = lipgloss.NewStyle().Bold(true).Underline(true)
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))

	stateStyles = map[connection.State]lipgloss.Style{
		connection.StateConnected:    lipgloss.NewStyle().Foreground(lipgloss.Color("42")),
		connection.StateConnecting:   lipgloss.NewStyle().Foreground(lipgloss.Color("220")),
		connection.StateReconnecting: lipgloss.NewStyle().Foreground(lipgloss.Color("208")),
		connection.StateDisconnected: lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
	}
)

func label(sender string) string {
	switch sender {
	case protocol.SenderUser:
		return userLabel.Render("you")
	case protocol.SenderSystem:
		return noticeStyle.Render("!")
	default:
		return agentLabel.Render("agent")
	}
}

func stateBadge(st connection.State) string {
	style, ok := stateStyles[st]
	if !ok {
		style = dimStyle
	}
	return style.Render("● " + string(st))
}
