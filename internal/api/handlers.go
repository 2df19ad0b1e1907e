package api

import (
	"net/http"

	"maca-service/internal/service/admin"
	usersvc "maca-service/internal/service/user"
	"maca-service/pkg/logger"
	"maca-service/pkg/response"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type credentialsBody struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type soloStartBody struct {
	Bet int64 `json:"bet" binding:"required"`
}

type soloActionBody struct {
	RoundID  string `json:"roundId" binding:"required"`
	Action   string `json:"action" binding:"required"`
	ActionID string `json:"actionId"`
}

type adminCommandBody struct {
	Command string `json:"command" binding:"required"`
}

func (h *Handler) Register(c *gin.Context) {
	var body credentialsBody
	if err := c.ShouldBindJSON(&body); err != nil {
		response.Error(c, http.StatusBadRequest, err.Error())
		return
	}
	resp, err := h.services.Auth.Register(c.Request.Context(), body.Username, body.Password)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, resp)
}

func (h *Handler) Login(c *gin.Context) {
	var body credentialsBody
	if err := c.ShouldBindJSON(&body); err != nil {
		response.Error(c, http.StatusBadRequest, err.Error())
		return
	}
	resp, err := h.services.Auth.Login(c.Request.Context(), body.Username, body.Password)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, resp)
}

func (h *Handler) Me(c *gin.Context) {
	identity, ok := currentUser(c)
	if !ok {
		return
	}
	u, err := h.services.User.GetByID(c.Request.Context(), identity.UserID)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, gin.H{
		"user":    u,
		"tableId": h.services.Tables.SeatedTable(identity.UserID),
	})
}

func (h *Handler) MyHistory(c *gin.Context) {
	identity, ok := currentUser(c)
	if !ok {
		return
	}
	limit, err := parsePositiveIntQuery(c, "limit", 20)
	if err != nil {
		response.Error(c, http.StatusBadRequest, err.Error())
		return
	}
	rows, err := h.services.Wallet.History(c.Request.Context(), identity.UserID, limit)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, gin.H{"items": rows})
}

func (h *Handler) ListTables(c *gin.Context) {
	identity, ok := currentUser(c)
	if !ok {
		return
	}
	response.Success(c, gin.H{"tables": h.services.Tables.LobbyTables(identity.UserID)})
}

func (h *Handler) TableState(c *gin.Context) {
	tableID := c.Param("id")
	if !h.services.Tables.TableExists(tableID) {
		response.Error(c, http.StatusNotFound, "table not found")
		return
	}
	response.Success(c, h.services.Tables.GameState(tableID))
}

func (h *Handler) SoloStart(c *gin.Context) {
	identity, ok := currentUser(c)
	if !ok {
		return
	}
	var body soloStartBody
	if err := c.ShouldBindJSON(&body); err != nil {
		response.Error(c, http.StatusBadRequest, err.Error())
		return
	}
	view, err := h.services.Solo.Start(c.Request.Context(), identity.UserID, body.Bet)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, view)
}

func (h *Handler) SoloAction(c *gin.Context) {
	identity, ok := currentUser(c)
	if !ok {
		return
	}
	var body soloActionBody
	if err := c.ShouldBindJSON(&body); err != nil {
		response.Error(c, http.StatusBadRequest, err.Error())
		return
	}
	view, err := h.services.Solo.Action(c.Request.Context(), identity.UserID, body.RoundID, body.Action, body.ActionID)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, view)
}

func (h *Handler) SoloCurrent(c *gin.Context) {
	identity, ok := currentUser(c)
	if !ok {
		return
	}
	view, err := h.services.Solo.Current(c.Request.Context(), identity.UserID)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, view)
}

func (h *Handler) SoloRound(c *gin.Context) {
	identity, ok := currentUser(c)
	if !ok {
		return
	}
	view, err := h.services.Solo.Get(c.Request.Context(), identity.UserID, c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, view)
}

func (h *Handler) SoloRecent(c *gin.Context) {
	identity, ok := currentUser(c)
	if !ok {
		return
	}
	response.Success(c, gin.H{"items": h.services.Solo.Recent(identity.UserID)})
}

// AdminCommand is the REST twin of the admin_command websocket event.
func (h *Handler) AdminCommand(c *gin.Context) {
	identity, ok := currentUser(c)
	if !ok {
		return
	}
	var body adminCommandBody
	if err := c.ShouldBindJSON(&body); err != nil {
		response.Error(c, http.StatusBadRequest, err.Error())
		return
	}
	result := h.services.Admin.Execute(c.Request.Context(), admin.Actor{UserID: identity.UserID, Role: identity.Role}, body.Command)
	if !result.OK {
		response.JSON(c, http.StatusBadRequest, result, result.Message)
		return
	}
	response.SuccessWithMsg(c, result, result.Message)
}

func (h *Handler) AdminAuditLogs(c *gin.Context) {
	limit, err := parsePositiveIntQuery(c, "limit", 50)
	if err != nil {
		response.Error(c, http.StatusBadRequest, err.Error())
		return
	}
	logs, err := h.services.Admin.ListAuditLogs(c.Request.Context(), limit)
	if err != nil {
		logger.Log.Error("list audit logs failed", zap.Error(err))
		response.Error(c, http.StatusInternalServerError, "failed to list audit logs")
		return
	}
	response.Success(c, gin.H{"items": logs})
}

func (h *Handler) AdminListUsers(c *gin.Context) {
	page, err := parsePositiveIntQuery(c, "page", 1)
	if err != nil {
		response.Error(c, http.StatusBadRequest, err.Error())
		return
	}
	size, err := parsePositiveIntQuery(c, "size", 20)
	if err != nil {
		response.Error(c, http.StatusBadRequest, err.Error())
		return
	}

	result, err := h.services.User.List(c.Request.Context(), usersvc.ListFilter{
		Page:            page,
		Size:            size,
		Role:            c.Query("role"),
		UsernameKeyword: c.Query("username"),
	})
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, gin.H{
		"items": result.Items,
		"total": result.Total,
		"page":  page,
		"size":  size,
	})
}
