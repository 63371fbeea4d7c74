package businesses

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type purgeRecorder struct {
	deleted []string
}

func (p *purgeRecorder) DeleteByBusiness(ctx context.Context, businessID string) error {
	p.deleted = append(p.deleted, businessID)
	return nil
}

func TestResolveReusesNormalizedBusiness(t *testing.T) {
	svc := &Service{Repo: NewMemoryRepo()}
	ctx := context.Background()

	first, created, err := svc.Resolve(ctx, "user-1", "https://maps.google.com/place/acme/", "Acme Gym")
	require.NoError(t, err)
	assert.True(t, created)

	second, created, err := svc.Resolve(ctx, "user-1", "HTTPS://maps.google.com/place/acme?utm_source=mail", "Acme")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)

	other, created, err := svc.Resolve(ctx, "user-2", "https://maps.google.com/place/acme", "Acme")
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEqual(t, first.ID, other.ID)
}

func TestDeleteCascadesAnalyses(t *testing.T) {
	purger := &purgeRecorder{}
	svc := &Service{Repo: NewMemoryRepo(), Analyses: purger}
	ctx := context.Background()
	b, _, err := svc.Resolve(ctx, "user-1", "https://maps.google.com/place/acme", "Acme")
	require.NoError(t, err)

	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(func(c *gin.Context) { c.Set("userId", "user-2"); c.Next() })
	NewHandler(svc).RegisterRoutes(r.Group("/api/v1"))

	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, httptest.NewRequest(http.MethodDelete, "/api/v1/businesses/"+b.ID, nil))
	assert.Equal(t, http.StatusNotFound, resp.Code)
	assert.Empty(t, purger.deleted)

	require.NoError(t, svc.Delete(ctx, "user-1", b.ID))
	assert.Equal(t, []string{b.ID}, purger.deleted)
	_, err = svc.Repo.GetByID(ctx, "user-1", b.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}
