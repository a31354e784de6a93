package core

import (
	"errors"
	"fmt"
	"log"
	"net/http"
	"regexp"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
)

var (
	emailPattern     = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)
	lowercasePattern = regexp.MustCompile(`[a-z]`)
	uppercasePattern = regexp.MustCompile(`[A-Z]`)
	digitPattern     = regexp.MustCompile(`\d`)
)

// NewRouter constructs the Gin engine with the auth routes wired.
func NewRouter(cfg Config, svc *AuthService, codec *TokenCodec, loginLimiter, registrationLimiter RateLimiter) *gin.Engine {
	r := gin.Default()
	r.HandleMethodNotAllowed = true
	r.NoMethod(func(c *gin.Context) {
		respondError(c, http.StatusMethodNotAllowed, "Method not allowed")
	})

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	auth := r.Group("/auth")

	auth.POST("/register", OriginGuard(cfg), func(c *gin.Context) {
		ip := clientIP(c)
		if d := registrationLimiter.Attempt(ip); !d.Allowed {
			c.Header("Retry-After", strconv.Itoa(d.WaitSeconds))
			respondError(c, http.StatusTooManyRequests, "Too many registration attempts. Please try again later.")
			return
		}

		var req struct {
			Email     string `json:"email"`
			Password  string `json:"password"`
			FirstName string `json:"firstName"`
			LastName  string `json:"lastName"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			respondError(c, http.StatusBadRequest, "Invalid JSON format")
			return
		}
		req.FirstName = strings.TrimSpace(req.FirstName)
		req.LastName = strings.TrimSpace(req.LastName)
		if details := validateRegistration(req.Email, req.Password, req.FirstName, req.LastName); len(details) > 0 {
			respondValidationError(c, details)
			return
		}

		user, err := svc.Register(c.Request.Context(), req.Email, req.Password, req.FirstName, req.LastName)
		if err != nil {
			if errors.Is(err, ErrDuplicateEmail) {
				respondError(c, http.StatusConflict, "An account with this email is already registered.")
				return
			}
			log.Printf("registration error: %v", err)
			respondError(c, http.StatusInternalServerError, "Internal Server Error. Please try again later.")
			return
		}

		token, err := codec.Sign(user.ID, "")
		if err != nil {
			log.Printf("session token error: %v", err)
			respondError(c, http.StatusInternalServerError, "Internal Server Error. Please try again later.")
			return
		}
		http.SetCookie(c.Writer, SessionCookie(token, cfg.IsProduction()))

		log.Printf("new user registered: %s (ID: %s)", user.Email, user.ID)
		c.JSON(http.StatusCreated, gin.H{
			"success": true,
			"message": "Account registered successfully",
			"user":    briefUser(user),
		})
	})

	// Dual-purpose route: GET on /register answers "who am I" for the
	// session cookie holder.
	auth.GET("/register", func(c *gin.Context) {
		claim, ok := requireSession(c, codec)
		if !ok {
			return
		}

		user, err := svc.CurrentUser(c.Request.Context(), claim.UserID)
		if err != nil {
			if errors.Is(err, ErrUserNotFound) {
				respondError(c, http.StatusNotFound, "User not found")
				return
			}
			log.Printf("whoami error: %v", err)
			respondError(c, http.StatusInternalServerError, "Internal server error")
			return
		}
		c.JSON(http.StatusOK, gin.H{"user": user})
	})

	auth.DELETE("/register", OriginGuard(cfg), func(c *gin.Context) {
		claim, ok := requireSession(c, codec)
		if !ok {
			return
		}

		user, err := svc.Delete(c.Request.Context(), claim.UserID)
		if err != nil {
			if errors.Is(err, ErrUserNotFound) {
				respondError(c, http.StatusNotFound, "User not found")
				return
			}
			log.Printf("delete user error: %v", err)
			respondError(c, http.StatusInternalServerError, "Internal server error. Please try again later.")
			return
		}

		http.SetCookie(c.Writer, ClearSessionCookie(cfg.IsProduction()))
		log.Printf("user deleted: %s (ID: %s)", user.Email, user.ID)
		c.JSON(http.StatusOK, gin.H{
			"success": true,
			"message": "Account deleted successfully",
			"user":    gin.H{"id": user.ID, "email": user.Email},
		})
	})

	auth.POST("/login", OriginGuard(cfg), func(c *gin.Context) {
		ip := clientIP(c)
		if d := loginLimiter.Attempt(ip); !d.Allowed {
			c.Header("Retry-After", strconv.Itoa(d.WaitSeconds))
			respondError(c, http.StatusTooManyRequests,
				fmt.Sprintf("Too many login attempts. Please wait %d seconds.", d.WaitSeconds))
			return
		}

		var req struct {
			Email    string `json:"email"`
			Password string `json:"password"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			respondError(c, http.StatusBadRequest, "Invalid JSON format")
			return
		}
		if details := validateLogin(req.Email, req.Password); len(details) > 0 {
			respondValidationError(c, details)
			return
		}

		// A wrong password charges the email key too, bounding attacks
		// against a single account spread across many IPs.
		user, err := svc.Login(c.Request.Context(), req.Email, req.Password, func(email string) {
			loginLimiter.Attempt(email)
		})
		if err != nil {
			if errors.Is(err, ErrInvalidCredentials) {
				respondError(c, http.StatusUnauthorized, "Invalid email or password")
				return
			}
			log.Printf("login error: %v", err)
			respondError(c, http.StatusInternalServerError, "Internal Server Error. Please try again later")
			return
		}

		loginLimiter.Reset(ip)
		loginLimiter.Reset(NormalizeEmail(req.Email))

		token, err := codec.Sign(user.ID, "")
		if err != nil {
			log.Printf("session token error: %v", err)
			respondError(c, http.StatusInternalServerError, "Internal Server Error. Please try again later")
			return
		}
		http.SetCookie(c.Writer, SessionCookie(token, cfg.IsProduction()))

		log.Printf("user logged in: %s (ID: %s)", user.Email, user.ID)
		c.JSON(http.StatusOK, gin.H{
			"success": true,
			"message": "User logged in successfully",
			"user":    briefUser(user),
		})
	})

	auth.POST("/logout", OriginGuard(cfg), func(c *gin.Context) {
		// Verification only affects logging; the cookie is cleared on
		// every path.
		if cookie, err := c.Request.Cookie(SessionCookieName); err == nil {
			if claim, err := codec.Verify(cookie.Value); err == nil {
				log.Printf("user logged out: ID %s", claim.UserID)
			}
		}

		http.SetCookie(c.Writer, ClearSessionCookie(cfg.IsProduction()))
		c.JSON(http.StatusOK, gin.H{
			"success": true,
			"message": "User logged out successfully.",
		})
	})

	return r
}

// requireSession reads and verifies the session cookie, writing a single
// generic 401 for every failure mode.
func requireSession(c *gin.Context, codec *TokenCodec) (*SessionClaim, bool) {
	cookie, err := c.Request.Cookie(SessionCookieName)
	if err != nil || cookie.Value == "" {
		respondError(c, http.StatusUnauthorized, "Authentication required")
		return nil, false
	}
	claim, err := codec.Verify(cookie.Value)
	if err != nil {
		respondError(c, http.StatusUnauthorized, "Invalid session.")
		return nil, false
	}
	return claim, true
}

// clientIP takes the first X-Forwarded-For entry; requests without one are
// pooled under a single key.
func clientIP(c *gin.Context) string {
	if forwarded := c.GetHeader("X-Forwarded-For"); forwarded != "" {
		return strings.TrimSpace(strings.Split(forwarded, ",")[0])
	}
	return "unknown"
}

func validateRegistration(email, password, firstName, lastName string) []FieldError {
	var details []FieldError
	if !emailPattern.MatchString(strings.TrimSpace(email)) {
		details = append(details, FieldError{Field: "email", Message: "Invalid email format"})
	}
	switch {
	case len(password) < 8:
		details = append(details, FieldError{Field: "password", Message: "Password must be at least 8 characters"})
	case !lowercasePattern.MatchString(password):
		details = append(details, FieldError{Field: "password", Message: "Password must contain at least one lowercase letter"})
	case !uppercasePattern.MatchString(password):
		details = append(details, FieldError{Field: "password", Message: "Password must contain at least one uppercase letter"})
	case !digitPattern.MatchString(password):
		details = append(details, FieldError{Field: "password", Message: "Password must contain at least one number"})
	}
	if len(firstName) < 3 || len(firstName) > 50 {
		details = append(details, FieldError{Field: "firstName", Message: "First name is required"})
	}
	if len(lastName) < 3 || len(lastName) > 50 {
		details = append(details, FieldError{Field: "lastName", Message: "Last name is required"})
	}
	return details
}

func validateLogin(email, password string) []FieldError {
	var details []FieldError
	if !emailPattern.MatchString(strings.TrimSpace(email)) {
		details = append(details, FieldError{Field: "email", Message: "Invalid email format"})
	}
	if password == "" {
		details = append(details, FieldError{Field: "password", Message: "Password is required"})
	}
	return details
}

// briefUser is the login/register response shape; createdAt is only exposed
// by the whoami route.
func briefUser(u *User) gin.H {
	return gin.H{
		"id":        u.ID,
		"email":     u.Email,
		"firstName": u.FirstName,
		"lastName":  u.LastName,
	}
}
