package handler

import (
	"fmt"
	"net/http"

	"storefront-service/internal/model"
	"storefront-service/internal/pricing"
	"storefront-service/internal/repository"
	"storefront-service/internal/service"
	"storefront-service/pkg/logger"
	"storefront-service/prometheus"

	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ProductHandler serves the catalog to shoppers and admins
type ProductHandler struct {
	catalog *service.CatalogService
}

// NewProductHandler creates a ProductHandler
func NewProductHandler(catalog *service.CatalogService) *ProductHandler {
	return &ProductHandler{catalog: catalog}
}

type tierView struct {
	model.PriceTier
	UnitPrice decimal.Decimal `json:"unitPrice"`
	Savings   decimal.Decimal `json:"savings"`
}

type productView struct {
	model.Product
	UnitPrice  decimal.Decimal `json:"unitPrice"`
	PriceTiers []tierView      `json:"priceTiers"`
}

type productListView struct {
	Products []productView `json:"products"`
	Total    int64         `json:"total"`
}

// viewOf adds the per-unit price and the savings of every tier
func viewOf(p model.Product) productView {
	tiers := p.Tiers()
	view := productView{
		Product:    p,
		UnitPrice:  pricing.UnitPrice(tiers, p.BasePrice).Round(2),
		PriceTiers: make([]tierView, 0, len(p.PriceTiers)),
	}
	for _, t := range p.PriceTiers {
		view.PriceTiers = append(view.PriceTiers, tierView{
			PriceTier: t,
			UnitPrice: t.Price.DivRound(decimal.NewFromInt(int64(t.Quantity)), 2),
			Savings:   pricing.Savings(tiers, p.BasePrice, t.Tier()),
		})
	}
	return view
}

func productFilter(c echo.Context) (repository.ProductFilter, error) {
	filter := repository.ProductFilter{
		Flavor: model.Flavor(c.QueryParam("flavor")),
		Search: c.QueryParam("search"),
	}
	err := echo.QueryParamsBinder(c).
		Int("limit", &filter.Limit).
		Int("offset", &filter.Offset).
		BindError()
	if err != nil {
		return filter, fmt.Errorf("%w: limit and offset must be integers", service.ErrValidation)
	}
	return filter, nil
}

func (h *ProductHandler) list(c echo.Context, filter repository.ProductFilter) error {
	page, err := h.catalog.ListProducts(c.Request().Context(), filter)
	if err != nil {
		return err
	}
	views := make([]productView, 0, len(page.Products))
	for _, p := range page.Products {
		views = append(views, viewOf(p))
	}
	return respond(c, http.StatusOK, productListView{Products: views, Total: page.Total})
}

// ListProducts handles the storefront listing. Only active products are
// ever shown here.
func (h *ProductHandler) ListProducts(c echo.Context) error {
	filter, err := productFilter(c)
	if err != nil {
		return err
	}
	active := true
	filter.Active = &active
	return h.list(c, filter)
}

// GetProduct handles retrieving a single active product by ID
func (h *ProductHandler) GetProduct(c echo.Context) error {
	id, err := idParam(c, "id")
	if err != nil {
		return err
	}
	product, err := h.catalog.GetProduct(c.Request().Context(), id, false)
	if err != nil {
		return err
	}
	prometheus.RecordProductView(id)
	return respond(c, http.StatusOK, viewOf(*product))
}

// AdminListProducts lists products including inactive ones unless the
// active query parameter narrows them
func (h *ProductHandler) AdminListProducts(c echo.Context) error {
	filter, err := productFilter(c)
	if err != nil {
		return err
	}
	if filter.Active, err = boolQuery(c, "active"); err != nil {
		return err
	}
	return h.list(c, filter)
}

// AdminGetProduct returns a product whether or not it is active
func (h *ProductHandler) AdminGetProduct(c echo.Context) error {
	id, err := idParam(c, "id")
	if err != nil {
		return err
	}
	product, err := h.catalog.GetProduct(c.Request().Context(), id, true)
	if err != nil {
		return err
	}
	return respond(c, http.StatusOK, viewOf(*product))
}

// CreateProduct handles creating a new product with variants and tiers
func (h *ProductHandler) CreateProduct(c echo.Context) error {
	log := logger.FromEcho(c)

	var req ProductRequest
	if err := bind(c, &req); err != nil {
		return err
	}

	product, err := h.catalog.CreateProduct(c.Request().Context(), req.input())
	if err != nil {
		log.Warn("Failed to create product", zap.String("name", req.Name), zap.Error(err))
		return err
	}
	return respond(c, http.StatusCreated, viewOf(*product))
}

// UpdateProduct handles updating a product's own fields
func (h *ProductHandler) UpdateProduct(c echo.Context) error {
	id, err := idParam(c, "id")
	if err != nil {
		return err
	}
	var req ProductRequest
	if err := bind(c, &req); err != nil {
		return err
	}

	product, err := h.catalog.UpdateProduct(c.Request().Context(), id, req.input())
	if err != nil {
		return err
	}
	return respond(c, http.StatusOK, viewOf(*product))
}

// DeactivateProduct handles DELETE, which only hides the product
func (h *ProductHandler) DeactivateProduct(c echo.Context) error {
	id, err := idParam(c, "id")
	if err != nil {
		return err
	}
	if err := h.catalog.DeactivateProduct(c.Request().Context(), id); err != nil {
		return err
	}
	return respond(c, http.StatusOK, echo.Map{"id": id, "active": false})
}

// CreateVariant adds a variant to a product
func (h *ProductHandler) CreateVariant(c echo.Context) error {
	productID, err := idParam(c, "id")
	if err != nil {
		return err
	}
	var req VariantRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	variant, err := h.catalog.CreateVariant(c.Request().Context(), productID, req.input())
	if err != nil {
		return err
	}
	return respond(c, http.StatusCreated, variant)
}

// UpdateVariant replaces a variant, including its stock level
func (h *ProductHandler) UpdateVariant(c echo.Context) error {
	productID, err := idParam(c, "id")
	if err != nil {
		return err
	}
	variantID, err := idParam(c, "variantId")
	if err != nil {
		return err
	}
	var req VariantRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	variant, err := h.catalog.UpdateVariant(c.Request().Context(), productID, variantID, req.input())
	if err != nil {
		return err
	}
	prometheus.UpdateVariantStock(variant.ID, variant.SKU, variant.Stock)
	return respond(c, http.StatusOK, variant)
}

// DeleteVariant removes a variant
func (h *ProductHandler) DeleteVariant(c echo.Context) error {
	productID, err := idParam(c, "id")
	if err != nil {
		return err
	}
	variantID, err := idParam(c, "variantId")
	if err != nil {
		return err
	}
	if err := h.catalog.DeleteVariant(c.Request().Context(), productID, variantID); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

// CreateTier adds a quantity price tier
func (h *ProductHandler) CreateTier(c echo.Context) error {
	productID, err := idParam(c, "id")
	if err != nil {
		return err
	}
	var req TierRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	tier, err := h.catalog.CreateTier(c.Request().Context(), productID, req.input())
	if err != nil {
		return err
	}
	return respond(c, http.StatusCreated, tier)
}

// UpdateTier replaces a tier's quantity and price
func (h *ProductHandler) UpdateTier(c echo.Context) error {
	productID, err := idParam(c, "id")
	if err != nil {
		return err
	}
	tierID, err := idParam(c, "tierId")
	if err != nil {
		return err
	}
	var req TierRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	tier, err := h.catalog.UpdateTier(c.Request().Context(), productID, tierID, req.input())
	if err != nil {
		return err
	}
	return respond(c, http.StatusOK, tier)
}

// DeleteTier removes a tier
func (h *ProductHandler) DeleteTier(c echo.Context) error {
	productID, err := idParam(c, "id")
	if err != nil {
		return err
	}
	tierID, err := idParam(c, "tierId")
	if err != nil {
		return err
	}
	if err := h.catalog.DeleteTier(c.Request().Context(), productID, tierID); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}
