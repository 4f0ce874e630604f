package middleware

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"gorm.io/gorm"

	"go-storefront/web/db"
)

const userKey = "user"

var ErrInvalidToken = errors.New("invalid or expired token")

// Auth issues and checks the HS256 session tokens.
type Auth struct {
	secret []byte
	ttl    time.Duration
	db     *gorm.DB
}

func NewAuth(secret string, ttl time.Duration, database *gorm.DB) *Auth {
	if ttl <= 0 {
		ttl = 30 * 24 * time.Hour
	}
	return &Auth{secret: []byte(secret), ttl: ttl, db: database}
}

func (a *Auth) Issue(u *db.User) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub":  u.ID,
		"role": string(u.Role),
		"iat":  now.Unix(),
		"exp":  now.Add(a.ttl).Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

func (a *Auth) parse(tokenString string) (string, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil || !token.Valid {
		return "", ErrInvalidToken
	}
	sub, err := token.Claims.GetSubject()
	if err != nil || sub == "" {
		return "", ErrInvalidToken
	}
	return sub, nil
}

func bearer(c *gin.Context) string {
	h := c.GetHeader("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	if cookie, err := c.Cookie("Authorization"); err == nil {
		return cookie
	}
	return ""
}

func (a *Auth) resolve(c *gin.Context) (*db.User, error) {
	tokenString := bearer(c)
	if tokenString == "" {
		return nil, ErrInvalidToken
	}
	id, err := a.parse(tokenString)
	if err != nil {
		return nil, err
	}
	var user db.User
	if err := a.db.WithContext(c.Request.Context()).First(&user, "id = ?", id).Error; err != nil {
		return nil, ErrInvalidToken
	}
	return &user, nil
}

func (a *Auth) RequireAuth(c *gin.Context) {
	user, err := a.resolve(c)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}
	c.Set(userKey, user)
	c.Next()
}

// AdminAuth must run after RequireAuth.
func (a *Auth) AdminAuth(c *gin.Context) {
	user := CurrentUser(c)
	if user == nil || user.Role != db.RoleAdmin {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Forbidden"})
		return
	}
	c.Next()
}

// OptionalAuth sets the user when a valid token is present and never aborts.
func (a *Auth) OptionalAuth(c *gin.Context) {
	if user, err := a.resolve(c); err == nil {
		c.Set(userKey, user)
	}
	c.Next()
}

func CurrentUser(c *gin.Context) *db.User {
	v, ok := c.Get(userKey)
	if !ok {
		return nil
	}
	user, _ := v.(*db.User)
	return user
}
