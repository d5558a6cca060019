package httpapi

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"colorstock/backend/internal/domain"
	"colorstock/backend/internal/service"
)

func (a *API) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req domain.RegisterRequest
	if err := decodeJSON(r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	user, err := a.auth.Register(r.Context(), req)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeData(w, http.StatusCreated, "user registered", user)
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if !a.loginLimiter.Allow(clientKey(r)) {
		a.fail(w, r, errRateLimited)
		return
	}

	var req domain.LoginRequest
	if err := decodeJSON(r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	if err := service.Validate(req); err != nil {
		a.fail(w, r, err)
		return
	}

	resp, err := a.auth.Login(r.Context(), req)
	if err != nil {
		a.fail(w, r, err)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     tokenCookieName,
		Value:    resp.Token,
		Path:     "/",
		MaxAge:   int(a.auth.TokenTTL() / time.Second),
		HttpOnly: true,
		Secure:   a.secureCookie,
		SameSite: http.SameSiteLaxMode,
	})
	writeData(w, http.StatusOK, "login successful", resp)
}

func (a *API) handleLogout(w http.ResponseWriter, _ *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     tokenCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   a.secureCookie,
		SameSite: http.SameSiteLaxMode,
	})
	writeData(w, http.StatusOK, "logged out", nil)
}

func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	actor, _ := service.ActorFromContext(r.Context())
	user, err := a.auth.Me(r.Context(), actor)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, "current user", user)
}

func (a *API) handleCreateSale(w http.ResponseWriter, r *http.Request) {
	var req domain.SaleCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	sale, err := a.service.CreateSale(r.Context(), req)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeData(w, http.StatusCreated, "sale created", sale)
}

// handleListSales filters on startDate and endDate only when both are given.
// A date-only endDate such as 2024-01-31 includes that whole day.
func (a *API) handleListSales(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	report, err := a.service.ListSales(r.Context(), query.Get("startDate"), query.Get("endDate"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, "sales", report)
}

func (a *API) handleGetSale(w http.ResponseWriter, r *http.Request) {
	sale, err := a.service.GetSale(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, "sale", sale)
}

func (a *API) handleDeleteSale(w http.ResponseWriter, r *http.Request) {
	result, err := a.service.DeleteSale(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, "sale deleted and stock restored", result)
}

func (a *API) handleListProducts(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := domain.ProductFilter{NameContains: strings.TrimSpace(query.Get("name"))}
	if raw := strings.TrimSpace(query.Get("active")); raw != "" {
		active, err := strconv.ParseBool(raw)
		if err != nil {
			a.fail(w, r, &service.ValidationError{
				Message: "invalid query",
				Fields:  map[string]string{"active": "must be true or false"},
			})
			return
		}
		filter.ActiveOnly = active
	}

	products, err := a.service.ListProducts(r.Context(), filter)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, "products", productViews(products))
}

func (a *API) handleLowStock(w http.ResponseWriter, r *http.Request) {
	entries, err := a.service.LowStock(r.Context())
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, "low stock variants", entries)
}

func (a *API) handleGetProduct(w http.ResponseWriter, r *http.Request) {
	product, err := a.service.GetProduct(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, "product", domain.NewProductView(product))
}

func (a *API) handleCreateProduct(w http.ResponseWriter, r *http.Request) {
	var req domain.ProductCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	product, err := a.service.CreateProduct(r.Context(), req)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeData(w, http.StatusCreated, "product created", domain.NewProductView(product))
}

func (a *API) handleUpdateProduct(w http.ResponseWriter, r *http.Request) {
	var req domain.ProductUpdateRequest
	if err := decodeJSON(r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	product, err := a.service.UpdateProduct(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, "product updated", domain.NewProductView(product))
}

func (a *API) handleDeleteProduct(w http.ResponseWriter, r *http.Request) {
	if err := a.service.DeleteProduct(r.Context(), chi.URLParam(r, "id")); err != nil {
		a.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, "product deleted", nil)
}

func (a *API) handleSetProductActive(active bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		product, err := a.service.SetProductActive(r.Context(), chi.URLParam(r, "id"), active)
		if err != nil {
			a.fail(w, r, err)
			return
		}
		writeData(w, http.StatusOK, activationMessage("product", active), domain.NewProductView(product))
	}
}

func (a *API) handleAdjustStock(w http.ResponseWriter, r *http.Request) {
	var req domain.StockAdjustRequest
	if err := decodeJSON(r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	product, err := a.service.AdjustStock(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, "stock updated", domain.NewProductView(product))
}

func (a *API) handleListCategories(w http.ResponseWriter, r *http.Request) {
	categories, err := a.service.ListCategories(r.Context())
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, "categories", categories)
}

func (a *API) handleGetCategory(w http.ResponseWriter, r *http.Request) {
	category, err := a.service.GetCategory(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, "category", category)
}

func (a *API) handleCreateCategory(w http.ResponseWriter, r *http.Request) {
	var req domain.CategoryRequest
	if err := decodeJSON(r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	category, err := a.service.CreateCategory(r.Context(), req)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeData(w, http.StatusCreated, "category created", category)
}

func (a *API) handleUpdateCategory(w http.ResponseWriter, r *http.Request) {
	var req domain.CategoryRequest
	if err := decodeJSON(r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	category, err := a.service.UpdateCategory(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, "category updated", category)
}

func (a *API) handleDeleteCategory(w http.ResponseWriter, r *http.Request) {
	if err := a.service.DeleteCategory(r.Context(), chi.URLParam(r, "id")); err != nil {
		a.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, "category deleted", nil)
}

func (a *API) handleSetCategoryActive(active bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		category, err := a.service.SetCategoryActive(r.Context(), chi.URLParam(r, "id"), active)
		if err != nil {
			a.fail(w, r, err)
			return
		}
		writeData(w, http.StatusOK, activationMessage("category", active), category)
	}
}

func (a *API) handleListColors(w http.ResponseWriter, r *http.Request) {
	colors, err := a.service.ListColors(r.Context())
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, "colors", colors)
}

func (a *API) handleGetColor(w http.ResponseWriter, r *http.Request) {
	color, err := a.service.GetColor(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, "color", color)
}

func (a *API) handleCreateColor(w http.ResponseWriter, r *http.Request) {
	var req domain.ColorRequest
	if err := decodeJSON(r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	color, err := a.service.CreateColor(r.Context(), req)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeData(w, http.StatusCreated, "color created", color)
}

func (a *API) handleUpdateColor(w http.ResponseWriter, r *http.Request) {
	var req domain.ColorRequest
	if err := decodeJSON(r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	color, err := a.service.UpdateColor(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, "color updated", color)
}

func (a *API) handleDeleteColor(w http.ResponseWriter, r *http.Request) {
	if err := a.service.DeleteColor(r.Context(), chi.URLParam(r, "id")); err != nil {
		a.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, "color deleted", nil)
}

func (a *API) handleSetColorActive(active bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		color, err := a.service.SetColorActive(r.Context(), chi.URLParam(r, "id"), active)
		if err != nil {
			a.fail(w, r, err)
			return
		}
		writeData(w, http.StatusOK, activationMessage("color", active), color)
	}
}

func productViews(products []domain.Product) []domain.ProductView {
	out := make([]domain.ProductView, 0, len(products))
	for _, p := range products {
		out = append(out, domain.NewProductView(p))
	}
	return out
}

func activationMessage(entity string, active bool) string {
	if active {
		return entity + " activated"
	}
	return entity + " deactivated"
}
