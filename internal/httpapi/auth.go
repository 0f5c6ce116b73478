package httpapi

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/sessions"
	"github.com/temirov/GAuss/pkg/constants"
	"github.com/temirov/GAuss/pkg/session"
	"go.uber.org/zap"

	"github.com/MarkoPoloResearchLab/testimonialwall/internal/model"
)

const (
	contextKeyCurrentUser = "httpapi_current_user"
	logEventLoadSession   = "load_session"
)

// CurrentUser is the signed-in dashboard owner. OwnerID keys every testimonial and widget they own.
type CurrentUser struct {
	OwnerID    string
	Email      string
	Name       string
	PictureURL string
}

// AuthManager reads the GAuss session cookie on every request, so identity changes
// take effect on the next request without any subscription.
type AuthManager struct {
	logger       *zap.Logger
	sessionStore *sessions.CookieStore
}

func NewAuthManager(logger *zap.Logger) *AuthManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuthManager{
		logger:       logger,
		sessionStore: session.Store(),
	}
}

func (authManager *AuthManager) RequireAuthenticatedJSON() gin.HandlerFunc {
	return func(context *gin.Context) {
		if _, ok := authManager.ensureUser(context); !ok {
			context.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{jsonKeyError: errorValueUnauthorized})
			return
		}
		context.Next()
	}
}

func CurrentUserFromContext(context *gin.Context) (*CurrentUser, bool) {
	value, exists := context.Get(contextKeyCurrentUser)
	if !exists {
		return nil, false
	}
	currentUser, ok := value.(*CurrentUser)
	return currentUser, ok
}

func (authManager *AuthManager) ensureUser(context *gin.Context) (*CurrentUser, bool) {
	if currentUser, exists := CurrentUserFromContext(context); exists {
		return currentUser, true
	}

	sessionInstance, sessionErr := authManager.sessionStore.Get(context.Request, constants.SessionName)
	if sessionErr != nil {
		authManager.logger.Warn(logEventLoadSession, zap.Error(sessionErr))
		return nil, false
	}

	email := extractString(sessionInstance.Values[constants.SessionKeyUserEmail])
	ownerID := model.NormalizeOwnerID(email)
	if ownerID == "" {
		return nil, false
	}

	currentUser := &CurrentUser{
		OwnerID:    ownerID,
		Email:      email,
		Name:       extractString(sessionInstance.Values[constants.SessionKeyUserName]),
		PictureURL: extractString(sessionInstance.Values[constants.SessionKeyUserPicture]),
	}
	context.Set(contextKeyCurrentUser, currentUser)
	return currentUser, true
}

// CurrentUserHandler answers GET /api/me.
func CurrentUserHandler(context *gin.Context) {
	currentUser, ok := CurrentUserFromContext(context)
	if !ok {
		context.JSON(http.StatusUnauthorized, gin.H{jsonKeyError: errorValueUnauthorized})
		return
	}
	context.JSON(http.StatusOK, gin.H{
		"ownerId": currentUser.OwnerID,
		"email":   currentUser.Email,
		"name":    currentUser.Name,
		"avatar":  gin.H{"url": currentUser.PictureURL},
	})
}

func extractString(value interface{}) string {
	text, ok := value.(string)
	if !ok {
		return ""
	}
	return strings.TrimSpace(text)
}
