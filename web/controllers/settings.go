package controllers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"go-storefront/log"
	"go-storefront/web/db"
	"go-storefront/web/middleware"
)

const popupID = 1

func (h *Handler) settingsMap(c *gin.Context) (map[string]datatypes.JSON, error) {
	var settings []db.Setting
	// "key" is reserved in MySQL, so the column goes through clause quoting
	byKey := clause.OrderByColumn{Column: clause.Column{Name: "key"}}
	if err := h.DB.WithContext(c.Request.Context()).Order(byKey).Find(&settings).Error; err != nil {
		return nil, err
	}
	out := make(map[string]datatypes.JSON, len(settings))
	for _, s := range settings {
		out[s.Key] = s.Value
	}
	return out, nil
}

func (h *Handler) Settings(c *gin.Context) {
	settings, err := h.settingsMap(c)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"settings": settings})
}

func (h *Handler) UpdateSetting(c *gin.Context) {
	key := c.Param("key")
	if key == "" || len(key) > 100 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid setting key"})
		return
	}

	var body struct {
		Value json.RawMessage `json:"value" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, err)
		return
	}

	setting := db.Setting{Key: key, Value: datatypes.JSON(body.Value)}
	err := h.DB.WithContext(c.Request.Context()).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&setting).Error
	if err != nil {
		respondError(c, err)
		return
	}

	log.AdminAction(middleware.CurrentUser(c).ID, "update_setting", key)
	c.JSON(http.StatusOK, gin.H{"setting": setting})
}

func (h *Handler) Popup(c *gin.Context) {
	var popup db.PopupConfig
	err := h.DB.WithContext(c.Request.Context()).First(&popup, popupID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		c.JSON(http.StatusOK, gin.H{"popup": db.PopupConfig{}})
		return
	}
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"popup": popup})
}

func (h *Handler) UpdatePopup(c *gin.Context) {
	var body struct {
		Enabled    bool   `json:"enabled"`
		Title      string `json:"title" binding:"max=191"`
		Message    string `json:"message"`
		ImageURL   string `json:"imageUrl" binding:"omitempty,url,max=512"`
		ButtonText string `json:"buttonText" binding:"max=64"`
		ButtonLink string `json:"buttonLink" binding:"omitempty,url,max=512"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, err)
		return
	}

	popup := db.PopupConfig{
		ID:         popupID,
		Enabled:    body.Enabled,
		Title:      body.Title,
		Message:    body.Message,
		ImageURL:   body.ImageURL,
		ButtonText: body.ButtonText,
		ButtonLink: body.ButtonLink,
	}
	err := h.DB.WithContext(c.Request.Context()).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		UpdateAll: true,
	}).Create(&popup).Error
	if err != nil {
		respondError(c, err)
		return
	}

	log.AdminAction(middleware.CurrentUser(c).ID, "update_popup", "popup")
	c.JSON(http.StatusOK, gin.H{"popup": popup})
}
