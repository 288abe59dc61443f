package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/giantswarm/mcp-gateway/session"
	"github.com/giantswarm/mcp-gateway/storage"
)

const (
	// ServerName is reported to clients during initialize
	ServerName = "mcp-gateway"

	ToolGetUserProfile = "get_user_profile"
	ResourceProfileURI = "user://profile"
	PromptSummarize    = "summarize"

	mimeJSON = "application/json"
)

// ProfileReader reads stored user profiles.
type ProfileReader interface {
	GetUserProfile(ctx context.Context, userID string) (*storage.UserProfile, error)
}

// Server wraps the mcp-go server with the gateway's tools, resources and
// prompts.
type Server struct {
	mcp      *server.MCPServer
	profiles ProfileReader
	logger   *slog.Logger
}

// New builds the protocol server.
func New(profiles ProfileReader, version string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		profiles: profiles,
		logger:   logger,
		mcp: server.NewMCPServer(ServerName, version,
			server.WithToolCapabilities(false),
			server.WithResourceCapabilities(false, false),
			server.WithPromptCapabilities(false),
			server.WithRecovery(),
			server.WithInstructions("Tools and resources for the user who authorized this session."),
		),
	}

	s.mcp.AddTool(
		mcp.NewTool(ToolGetUserProfile,
			mcp.WithDescription("Return the profile of the authenticated user as JSON."),
			mcp.WithReadOnlyHintAnnotation(true),
		),
		s.handleGetUserProfile,
	)

	s.mcp.AddResource(
		mcp.NewResource(ResourceProfileURI, "User profile",
			mcp.WithResourceDescription("Profile of the authenticated user"),
			mcp.WithMIMEType(mimeJSON),
		),
		s.handleProfileResource,
	)

	s.mcp.AddPrompt(
		mcp.NewPrompt(PromptSummarize,
			mcp.WithPromptDescription("Ask for a concise summary of a topic"),
			mcp.WithArgument("topic",
				mcp.ArgumentDescription("Topic to summarize"),
				mcp.RequiredArgument(),
			),
		),
		s.handleSummarize,
	)

	return s
}

// MCPServer returns the underlying mcp-go server.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

// TransportFactory returns a session.TransportFactory whose transports call
// onClose with their session id once they are closed.
func (s *Server) TransportFactory(onClose func(sessionID string)) session.TransportFactory {
	return func(sessionID, ownerID string) (session.Transport, error) {
		t := newTransport(s.mcp, sessionID, ownerID, onClose, s.logger)
		if err := s.mcp.RegisterSession(context.Background(), t); err != nil {
			return nil, fmt.Errorf("failed to register session: %w", err)
		}
		return t, nil
	}
}

// profileView is the JSON shape of a profile returned to clients.
type profileView struct {
	ID      string `json:"id"`
	Email   string `json:"email,omitempty"`
	Name    string `json:"name,omitempty"`
	Picture string `json:"picture,omitempty"`
}

func (s *Server) profileJSON(ctx context.Context) (string, error) {
	userID := UserIDFromContext(ctx)
	if userID == "" {
		return "", errors.New("no authenticated user")
	}

	profile, err := s.profiles.GetUserProfile(ctx, userID)
	if errors.Is(err, storage.ErrUserNotFound) {
		// Token holder never completed a login that stored a profile
		profile = &storage.UserProfile{ID: userID}
	} else if err != nil {
		s.logger.Error("Failed to load user profile", "error", err)
		return "", errors.New("profile unavailable")
	}

	data, err := json.Marshal(profileView{
		ID:      profile.ID,
		Email:   profile.Email,
		Name:    profile.Name,
		Picture: profile.Picture,
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode profile: %w", err)
	}
	return string(data), nil
}

func (s *Server) handleGetUserProfile(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	text, err := s.profileJSON(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(text), nil
}

func (s *Server) handleProfileResource(ctx context.Context, _ mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	text, err := s.profileJSON(ctx)
	if err != nil {
		return nil, err
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      ResourceProfileURI,
			MIMEType: mimeJSON,
			Text:     text,
		},
	}, nil
}

func (s *Server) handleSummarize(ctx context.Context, req mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	topic := strings.TrimSpace(req.Params.Arguments["topic"])
	if topic == "" {
		return nil, errors.New("topic is required")
	}

	text := fmt.Sprintf("Please provide a concise summary of the following topic for user %s: %s",
		UserIDFromContext(ctx), topic)

	return mcp.NewGetPromptResult("Summarize a topic", []mcp.PromptMessage{
		mcp.NewPromptMessage(mcp.RoleUser, mcp.NewTextContent(text)),
	}), nil
}
