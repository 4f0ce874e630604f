package controllers

import (
	"net/http"
	"runtime"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shopspring/decimal"

	"go-storefront/catalog"
	"go-storefront/log"
	"go-storefront/payment/order"
	"go-storefront/web/db"
	"go-storefront/web/middleware"
)

type priceInput struct {
	Amount       decimal.Decimal `json:"amount"`
	Currency     string          `json:"currency" binding:"omitempty,len=3,alpha"`
	Category     string          `json:"category" binding:"max=64"`
	DeliveryLink string          `json:"deliveryLink" binding:"max=1024"`
}

func (p priceInput) model() db.Price {
	return db.Price{Amount: p.Amount, Currency: p.Currency, Category: p.Category, DeliveryLink: p.DeliveryLink}
}

func adminID(c *gin.Context) string {
	if u := middleware.CurrentUser(c); u != nil {
		return u.ID
	}
	return ""
}

func (h *Handler) AdminListProducts(c *gin.Context) {
	products, err := h.Catalog.ListAll(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"products": products})
}

func (h *Handler) AdminGetProduct(c *gin.Context) {
	p, err := h.Catalog.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"product": p})
}

func (h *Handler) AdminCreateProduct(c *gin.Context) {
	var body struct {
		Name         string       `json:"name" binding:"required,max=191"`
		Description  string       `json:"description"`
		ImageURL     string       `json:"imageUrl" binding:"max=512"`
		IsActive     *bool        `json:"isActive"`
		TelegramLink string       `json:"telegramLink" binding:"max=512"`
		Regions      []string     `json:"regions" binding:"dive,region"`
		Prices       []priceInput `json:"prices" binding:"dive"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, err)
		return
	}

	p := &db.Product{
		Name:         body.Name,
		Description:  body.Description,
		ImageURL:     body.ImageURL,
		IsActive:     body.IsActive == nil || *body.IsActive,
		TelegramLink: body.TelegramLink,
	}
	for _, pr := range body.Prices {
		p.Prices = append(p.Prices, pr.model())
	}
	for _, code := range body.Regions {
		p.Regions = append(p.Regions, db.ProductRegion{CountryCode: code})
	}

	if err := h.Catalog.CreateProduct(c.Request.Context(), p); err != nil {
		respondError(c, err)
		return
	}
	log.AdminAction(adminID(c), "create_product", p.ID)
	c.JSON(http.StatusCreated, gin.H{"product": p})
}

func (h *Handler) AdminUpdateProduct(c *gin.Context) {
	var body struct {
		Name         *string `json:"name" binding:"omitempty,min=1,max=191"`
		Description  *string `json:"description"`
		ImageURL     *string `json:"imageUrl" binding:"omitempty,max=512"`
		IsActive     *bool   `json:"isActive"`
		TelegramLink *string `json:"telegramLink" binding:"omitempty,max=512"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, err)
		return
	}

	p, err := h.Catalog.UpdateProduct(c.Request.Context(), c.Param("id"), catalog.ProductUpdate{
		Name:         body.Name,
		Description:  body.Description,
		ImageURL:     body.ImageURL,
		IsActive:     body.IsActive,
		TelegramLink: body.TelegramLink,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	log.AdminAction(adminID(c), "update_product", p.ID)
	c.JSON(http.StatusOK, gin.H{"product": p})
}

func (h *Handler) AdminDeleteProduct(c *gin.Context) {
	id := c.Param("id")
	if err := h.Catalog.DeleteProduct(c.Request.Context(), id); err != nil {
		respondError(c, err)
		return
	}
	log.AdminAction(adminID(c), "delete_product", id)
	c.JSON(http.StatusOK, gin.H{"message": "Product deleted"})
}

func (h *Handler) AdminSetRegions(c *gin.Context) {
	var body struct {
		Regions []string `json:"regions" binding:"required,dive,region"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, err)
		return
	}

	id := c.Param("id")
	regions, err := h.Catalog.SetRegions(c.Request.Context(), id, body.Regions)
	if err != nil {
		respondError(c, err)
		return
	}
	log.AdminAction(adminID(c), "set_regions", id)
	c.JSON(http.StatusOK, gin.H{"regions": regions})
}

func (h *Handler) AdminAddPrice(c *gin.Context) {
	var body priceInput
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, err)
		return
	}

	price := body.model()
	if err := h.Catalog.AddPrice(c.Request.Context(), c.Param("id"), &price); err != nil {
		respondError(c, err)
		return
	}
	log.AdminAction(adminID(c), "add_price", price.ID)
	c.JSON(http.StatusCreated, gin.H{"price": price})
}

func (h *Handler) AdminUpdatePrice(c *gin.Context) {
	var body struct {
		Amount       *decimal.Decimal `json:"amount"`
		Currency     *string          `json:"currency" binding:"omitempty,len=3,alpha"`
		Category     *string          `json:"category" binding:"omitempty,max=64"`
		DeliveryLink *string          `json:"deliveryLink" binding:"omitempty,max=1024"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, err)
		return
	}

	price, err := h.Catalog.UpdatePrice(c.Request.Context(), c.Param("id"), catalog.PriceUpdate{
		Amount:       body.Amount,
		Currency:     body.Currency,
		Category:     body.Category,
		DeliveryLink: body.DeliveryLink,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	log.AdminAction(adminID(c), "update_price", price.ID)
	c.JSON(http.StatusOK, gin.H{"price": price})
}

func (h *Handler) AdminDeletePrice(c *gin.Context) {
	id := c.Param("id")
	if err := h.Catalog.DeletePrice(c.Request.Context(), id); err != nil {
		respondError(c, err)
		return
	}
	log.AdminAction(adminID(c), "delete_price", id)
	c.JSON(http.StatusOK, gin.H{"message": "Price deleted"})
}

func (h *Handler) AdminListOrders(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("pageSize", "20"))

	status := db.OrderStatus(c.Query("status"))
	switch status {
	case "", db.OrderPending, db.OrderCompleted, db.OrderFailed:
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid status filter"})
		return
	}

	orders, total, err := h.Orders.List(c.Request.Context(), order.ListFilter{
		Status:   status,
		Gateway:  c.Query("gateway"),
		Page:     page,
		PageSize: pageSize,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"orders":   orders,
		"total":    total,
		"page":     page,
		"pageSize": pageSize,
	})
}

func (h *Handler) AdminStats(c *gin.Context) {
	stats, err := h.Orders.Stats(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

// AdminSystem reports host load for the admin dashboard.
func (h *Handler) AdminSystem(c *gin.Context) {
	ctx := c.Request.Context()
	cpuUsage, err := cpu.PercentWithContext(ctx, 200*time.Millisecond, false)
	if err != nil || len(cpuUsage) == 0 {
		respondError(c, errOrUnknown(err, "cpu usage unavailable"))
		return
	}
	memInfo, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		respondError(c, err)
		return
	}
	uptime, _ := host.UptimeWithContext(ctx)

	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	c.JSON(http.StatusOK, gin.H{
		"cpu_usage":           cpuUsage[0],
		"memory_total":        memInfo.Total,
		"memory_used":         memInfo.Used,
		"memory_used_percent": memInfo.UsedPercent,
		"uptime_seconds":      uptime,
		"goroutines":          runtime.NumGoroutine(),
		"heap_alloc":          ms.HeapAlloc,
	})
}
