package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/Rzhvms/CurrencyParser/internal/items"
)

// itemService is the subset of *items.Service used by the item handlers.
type itemService interface {
	List(ctx context.Context) ([]items.Item, error)
	Get(ctx context.Context, id int64) (*items.Item, error)
	Create(ctx context.Context, req items.CreateRequest) (*items.Item, error)
	Update(ctx context.Context, id int64, req items.UpdateRequest) (*items.Item, error)
	Delete(ctx context.Context, id int64) error
}

// ListItems handles GET /items.
//
// @Summary  List stored currency rates
// @Tags     items
// @Produce  json
// @Success  200  {array}   items.Item
// @Failure  500  {object}  errorBody
// @Router   /items [get]
func (h *Handler) ListItems(c *gin.Context) {
	list, err := h.items.List(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	if list == nil {
		list = []items.Item{}
	}
	c.JSON(http.StatusOK, list)
}

// GetItem handles GET /items/:id.
//
// @Summary  Get one currency rate
// @Tags     items
// @Produce  json
// @Param    id   path      int  true  "Item ID"
// @Success  200  {object}  items.Item
// @Failure  400  {object}  errorBody
// @Failure  404  {object}  errorBody
// @Router   /items/{id} [get]
func (h *Handler) GetItem(c *gin.Context) {
	id, ok := itemID(c)
	if !ok {
		return
	}
	it, err := h.items.Get(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, it)
}

// CreateItem handles POST /items.
//
// @Summary  Create a currency rate
// @Tags     items
// @Accept   json
// @Produce  json
// @Param    item  body      items.CreateRequest  true  "New item"
// @Success  201   {object}  items.Item
// @Failure  400   {object}  errorBody
// @Failure  409   {object}  errorBody
// @Router   /items [post]
func (h *Handler) CreateItem(c *gin.Context) {
	var req items.CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body: "+err.Error())
		return
	}
	it, err := h.items.Create(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, it)
}

// UpdateItem handles PATCH /items/:id. Omitted fields keep their value.
//
// @Summary  Partially update a currency rate
// @Tags     items
// @Accept   json
// @Produce  json
// @Param    id    path      int                  true  "Item ID"
// @Param    item  body      items.UpdateRequest  true  "Fields to change"
// @Success  200   {object}  items.Item
// @Failure  400   {object}  errorBody
// @Failure  404   {object}  errorBody
// @Router   /items/{id} [patch]
func (h *Handler) UpdateItem(c *gin.Context) {
	id, ok := itemID(c)
	if !ok {
		return
	}
	var req items.UpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body: "+err.Error())
		return
	}
	it, err := h.items.Update(c.Request.Context(), id, req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, it)
}

// DeleteItem handles DELETE /items/:id.
//
// @Summary  Delete a currency rate
// @Tags     items
// @Param    id   path  int  true  "Item ID"
// @Success  204
// @Failure  400  {object}  errorBody
// @Failure  404  {object}  errorBody
// @Router   /items/{id} [delete]
func (h *Handler) DeleteItem(c *gin.Context) {
	id, ok := itemID(c)
	if !ok {
		return
	}
	if err := h.items.Delete(c.Request.Context(), id); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// itemID parses the :id path parameter, writing a 400 when it is not a
// positive integer.
func itemID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id < 1 {
		badRequest(c, "id must be a positive integer")
		return 0, false
	}
	return id, true
}
