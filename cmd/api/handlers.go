package main

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/sitestock/stock-ledger/internal/activities"
	"github.com/sitestock/stock-ledger/internal/application"
	"github.com/sitestock/stock-ledger/pkg/api"
	apperrors "github.com/sitestock/stock-ledger/pkg/errors"
	"github.com/sitestock/stock-ledger/pkg/logging"
	"github.com/sitestock/stock-ledger/pkg/middleware"
)

type addStockRequest struct {
	Name     string `json:"name" binding:"required,max=200,safe_string"`
	Location string `json:"location" binding:"required,location"`
	Quantity int64  `json:"quantity" binding:"required,gt=0"`
	Unit     string `json:"unit" binding:"required,unit"`
	Category string `json:"category" binding:"omitempty,category"`
}

type replenishmentRequest struct {
	SourceID string `json:"sourceId" binding:"required,max=128"`
	Name     string `json:"name" binding:"required,max=200,safe_string"`
	Location string `json:"location" binding:"required,location"`
	Quantity int64  `json:"quantity" binding:"required,gt=0"`
	Unit     string `json:"unit" binding:"required,unit"`
	Category string `json:"category" binding:"omitempty,category"`
}

type replenishmentBatchRequest struct {
	BatchID string                 `json:"batchId" binding:"required,max=128"`
	Kind    string                 `json:"kind" binding:"required,oneof=purchase rental"`
	Lines   []replenishmentRequest `json:"lines" binding:"required,min=1,max=500,dive"`
}

type logUsageRequest struct {
	Name     string `json:"name" binding:"required,max=200,safe_string"`
	Location string `json:"location" binding:"required,location"`
	Quantity int64  `json:"quantity" binding:"required,gt=0"`
	Note     string `json:"note" binding:"max=500,safe_string"`
}

type requestTransferRequest struct {
	Name     string `json:"name" binding:"required,max=200,safe_string"`
	Quantity int64  `json:"quantity" binding:"required,gt=0"`
	From     string `json:"from" binding:"required,location"`
	To       string `json:"to" binding:"required,location"`
	Note     string `json:"note" binding:"max=500,safe_string"`
}

type rejectTransferRequest struct {
	Reason string `json:"reason" binding:"max=500,safe_string"`
}

type stockKeyQuery struct {
	Name     string `form:"name" binding:"required"`
	Location string `form:"location" binding:"required,location"`
}

type listTransfersQuery struct {
	Status string `form:"status" binding:"omitempty,oneof=Requested Approved Rejected"`
	Site   string `form:"site"`
}

type listUsageQuery struct {
	Site string `form:"site" binding:"required"`
}

func addStockHandler(service *application.StockService, logger *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		responder := middleware.NewErrorResponder(c, logger.Logger)

		var req addStockRequest
		if appErr := middleware.BindAndValidate(c, &req); appErr != nil {
			responder.RespondWithAppError(appErr)
			return
		}

		result, err := service.AddStock(c.Request.Context(), application.AddStockCommand{
			Name:     req.Name,
			Location: req.Location,
			Quantity: req.Quantity,
			Unit:     req.Unit,
			Category: req.Category,
			ActorID:  middleware.GetActorID(c),
		})
		if err != nil {
			responder.RespondWithError(err)
			return
		}

		c.JSON(http.StatusCreated, result)
	}
}

type creditFunc func(c *gin.Context, cmd application.CreditReplenishmentCommand) (*application.CreditResultDTO, error)

// replenishmentHandler answers 200 both for a fresh credit and for a source
// that was credited before; alreadyCredited tells them apart.
func replenishmentHandler(credit creditFunc, logger *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		responder := middleware.NewErrorResponder(c, logger.Logger)

		var req replenishmentRequest
		if appErr := middleware.BindAndValidate(c, &req); appErr != nil {
			responder.RespondWithAppError(appErr)
			return
		}

		result, err := credit(c, application.CreditReplenishmentCommand{
			SourceID: req.SourceID,
			Name:     req.Name,
			Location: req.Location,
			Quantity: req.Quantity,
			Unit:     req.Unit,
			Category: req.Category,
			ActorID:  middleware.GetActorID(c),
		})
		if err != nil {
			responder.RespondWithError(err)
			return
		}

		c.JSON(http.StatusOK, result)
	}
}

func creditFromPurchaseHandler(service *application.StockService, logger *logging.Logger) gin.HandlerFunc {
	return replenishmentHandler(func(c *gin.Context, cmd application.CreditReplenishmentCommand) (*application.CreditResultDTO, error) {
		return service.CreditFromPurchase(c.Request.Context(), cmd)
	}, logger)
}

func creditFromRentalHandler(service *application.StockService, logger *logging.Logger) gin.HandlerFunc {
	return replenishmentHandler(func(c *gin.Context, cmd application.CreditReplenishmentCommand) (*application.CreditResultDTO, error) {
		return service.CreditFromRental(c.Request.Context(), cmd)
	}, logger)
}

// replenishmentBatchHandler answers 202 when the batch is handed to the worker
// and 200 when the same batch was submitted before.
func replenishmentBatchHandler(starter activities.WorkflowStarter, logger *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		responder := middleware.NewErrorResponder(c, logger.Logger)

		var req replenishmentBatchRequest
		if appErr := middleware.BindAndValidate(c, &req); appErr != nil {
			responder.RespondWithAppError(appErr)
			return
		}

		actorID := middleware.GetActorID(c)
		input := activities.ReplenishmentWorkflowInput{
			Kind:    req.Kind,
			ActorID: actorID,
			Sources: make([]activities.CreditInput, 0, len(req.Lines)),
		}
		for _, line := range req.Lines {
			input.Sources = append(input.Sources, activities.CreditInput{
				SourceID: line.SourceID,
				Name:     line.Name,
				Location: line.Location,
				Quantity: line.Quantity,
				Unit:     line.Unit,
				Category: line.Category,
				ActorID:  actorID,
			})
		}

		started, err := activities.StartReplenishment(c.Request.Context(), starter, req.BatchID, input)
		if err != nil {
			responder.RespondWithAppError(apperrors.ErrServiceUnavailable("workflow engine").Wrap(err))
			return
		}

		logger.Info("Replenishment batch submitted",
			"batchId", req.BatchID,
			"kind", req.Kind,
			"lines", len(req.Lines),
			"workflowId", started.WorkflowID,
			"alreadyStarted", started.AlreadyStarted,
		)

		status := http.StatusAccepted
		if started.AlreadyStarted {
			status = http.StatusOK
		}
		c.JSON(status, started)
	}
}

func logUsageHandler(service *application.StockService, logger *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		responder := middleware.NewErrorResponder(c, logger.Logger)

		var req logUsageRequest
		if appErr := middleware.BindAndValidate(c, &req); appErr != nil {
			responder.RespondWithAppError(appErr)
			return
		}

		result, err := service.LogUsage(c.Request.Context(), application.LogUsageCommand{
			Name:     req.Name,
			Location: req.Location,
			Quantity: req.Quantity,
			ActorID:  middleware.GetActorID(c),
			Note:     req.Note,
		})
		if err != nil {
			responder.RespondWithError(err)
			return
		}

		c.JSON(http.StatusCreated, result)
	}
}

func listUsageHandler(service *application.StockService, logger *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		responder := middleware.NewErrorResponder(c, logger.Logger)

		var q listUsageQuery
		if appErr := middleware.BindQuery(c, &q); appErr != nil {
			responder.RespondWithAppError(appErr)
			return
		}

		entries, err := service.ListUsage(c.Request.Context(), q.Site)
		if err != nil {
			responder.RespondWithError(err)
			return
		}

		c.JSON(http.StatusOK, api.Paginate(entries, api.ParsePagination(c)))
	}
}

func requestTransferHandler(service *application.StockService, logger *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		responder := middleware.NewErrorResponder(c, logger.Logger)

		var req requestTransferRequest
		if appErr := middleware.BindAndValidate(c, &req); appErr != nil {
			responder.RespondWithAppError(appErr)
			return
		}

		transfer, err := service.RequestTransfer(c.Request.Context(), application.RequestTransferCommand{
			Name:     req.Name,
			Quantity: req.Quantity,
			From:     req.From,
			To:       req.To,
			ActorID:  middleware.GetActorID(c),
			Note:     req.Note,
		})
		if err != nil {
			responder.RespondWithError(err)
			return
		}

		c.JSON(http.StatusCreated, transfer)
	}
}

func approveTransferHandler(service *application.StockService, logger *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		responder := middleware.NewErrorResponder(c, logger.Logger)

		decision, err := service.ApproveTransfer(c.Request.Context(), application.DecideTransferCommand{
			TransferID: c.Param("id"),
			ActorID:    middleware.GetActorID(c),
		})
		if err != nil {
			responder.RespondWithError(err)
			return
		}

		c.JSON(http.StatusOK, decision)
	}
}

func rejectTransferHandler(service *application.StockService, logger *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		responder := middleware.NewErrorResponder(c, logger.Logger)

		// The body is optional
		var req rejectTransferRequest
		if c.Request.ContentLength != 0 {
			if appErr := middleware.BindAndValidate(c, &req); appErr != nil {
				responder.RespondWithAppError(appErr)
				return
			}
		}

		transfer, err := service.RejectTransfer(c.Request.Context(), application.DecideTransferCommand{
			TransferID: c.Param("id"),
			ActorID:    middleware.GetActorID(c),
			Reason:     req.Reason,
		})
		if err != nil {
			responder.RespondWithError(err)
			return
		}

		c.JSON(http.StatusOK, transfer)
	}
}

func getTransferHandler(service *application.StockService, logger *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		responder := middleware.NewErrorResponder(c, logger.Logger)

		transfer, err := service.GetTransfer(c.Request.Context(), c.Param("id"))
		if err != nil {
			responder.RespondWithError(err)
			return
		}

		c.JSON(http.StatusOK, transfer)
	}
}

func listTransfersHandler(service *application.StockService, logger *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		responder := middleware.NewErrorResponder(c, logger.Logger)

		var q listTransfersQuery
		if appErr := middleware.BindQuery(c, &q); appErr != nil {
			responder.RespondWithAppError(appErr)
			return
		}

		transfers, err := service.ListTransfers(c.Request.Context(), application.ListTransfersQuery{
			Status: q.Status,
			SiteID: q.Site,
		})
		if err != nil {
			responder.RespondWithError(err)
			return
		}

		c.JSON(http.StatusOK, api.Paginate(transfers, api.ParsePagination(c)))
	}
}

func getBalanceHandler(service *application.StockService, logger *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		responder := middleware.NewErrorResponder(c, logger.Logger)

		var q stockKeyQuery
		if appErr := middleware.BindQuery(c, &q); appErr != nil {
			responder.RespondWithAppError(appErr)
			return
		}

		balance, err := service.GetBalance(c.Request.Context(), application.StockKeyQuery{Name: q.Name, Location: q.Location})
		if err != nil {
			responder.RespondWithError(err)
			return
		}

		c.JSON(http.StatusOK, balance)
	}
}

func historyHandler(service *application.StockService, logger *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		responder := middleware.NewErrorResponder(c, logger.Logger)

		var q stockKeyQuery
		if appErr := middleware.BindQuery(c, &q); appErr != nil {
			responder.RespondWithAppError(appErr)
			return
		}

		history, err := service.History(c.Request.Context(), application.StockKeyQuery{Name: q.Name, Location: q.Location})
		if err != nil {
			responder.RespondWithError(err)
			return
		}

		c.JSON(http.StatusOK, history)
	}
}

func reconcileHandler(service *application.StockService, logger *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		responder := middleware.NewErrorResponder(c, logger.Logger)

		var q stockKeyQuery
		if appErr := middleware.BindQuery(c, &q); appErr != nil {
			responder.RespondWithAppError(appErr)
			return
		}

		result, err := service.Reconcile(c.Request.Context(), application.StockKeyQuery{Name: q.Name, Location: q.Location})
		if err != nil {
			responder.RespondWithError(err)
			return
		}

		c.JSON(http.StatusOK, result)
	}
}

func listStockHandler(service *application.StockService, logger *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		responder := middleware.NewErrorResponder(c, logger.Logger)

		stock, err := service.ListStock(c.Request.Context(), c.Param("location"))
		if err != nil {
			responder.RespondWithError(err)
			return
		}

		c.JSON(http.StatusOK, stock)
	}
}
