package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"go-storefront/web/db"
	"go-storefront/web/middleware"
)

type credentials struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=6,max=72"`
}

func (h *Handler) session(c *gin.Context, status int, user *db.User) {
	tokenString, err := h.Auth.Issue(user)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(status, gin.H{"token": tokenString, "user": user})
}

func (h *Handler) Signup(c *gin.Context) {
	var body credentials
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, err)
		return
	}

	user, err := db.Register(c.Request.Context(), h.DB, body.Email, body.Password)
	if err != nil {
		respondError(c, err)
		return
	}
	h.session(c, http.StatusCreated, user)
}

func (h *Handler) Login(c *gin.Context) {
	var body struct {
		Email    string `json:"email" binding:"required"`
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, err)
		return
	}

	user, err := db.Authenticate(c.Request.Context(), h.DB, body.Email, body.Password)
	if err != nil {
		respondError(c, err)
		return
	}
	h.session(c, http.StatusOK, user)
}

// Guest signs in a buyer by email only. Emails of password accounts must log in.
func (h *Handler) Guest(c *gin.Context) {
	var body struct {
		Email string `json:"email" binding:"required,email"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, err)
		return
	}

	user, err := db.FindOrCreateGuest(c.Request.Context(), h.DB, body.Email)
	if err != nil {
		respondError(c, err)
		return
	}
	h.session(c, http.StatusOK, user)
}

func (h *Handler) Me(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"user": middleware.CurrentUser(c)})
}
