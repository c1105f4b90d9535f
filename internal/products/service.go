package product

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/threadline-backend/pkg/db"
	"github.com/angelmondragon/threadline-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/threadline-backend/pkg/errors"
	"github.com/angelmondragon/threadline-backend/pkg/logger"
	"github.com/angelmondragon/threadline-backend/pkg/pagination"
)

// PageSize is the storefront catalog page size.
const PageSize = 7

const uploadPrefix = "products"

var allowedImageTypes = []string{"image/jpeg", "image/png", "image/webp", "image/gif"}

// Service exposes the catalog read paths and the back-office writes.
type Service interface {
	ListProducts(ctx context.Context, input ListInput) (*pagination.Page[ProductDTO], error)
	GetProduct(ctx context.Context, id uuid.UUID) (*ProductDTO, error)
	ListCategories(ctx context.Context) ([]CategoryDTO, error)
	ListFeatured(ctx context.Context, category string) ([]FeaturedDTO, error)

	CreateProduct(ctx context.Context, input ProductInput) (*ProductDTO, error)
	UpdateProduct(ctx context.Context, id uuid.UUID, input ProductInput) (*ProductDTO, error)
	DeleteProduct(ctx context.Context, id uuid.UUID) error
	CreateCategory(ctx context.Context, name string) (*CategoryDTO, error)
	CreateFeatured(ctx context.Context, input FeaturedInput) (*FeaturedDTO, error)
	UpdateFeatured(ctx context.Context, id uuid.UUID, input FeaturedInput) (*FeaturedDTO, error)
	DeleteFeatured(ctx context.Context, id uuid.UUID) error
	UploadImage(ctx context.Context, filename string, body io.Reader) (*UploadResult, error)
}

// ListInput captures the catalog page request.
type ListInput struct {
	Category   string
	Pagination pagination.Params
}

// ProductInput is the admin product payload.
type ProductInput struct {
	Name        string
	Description string
	Price       decimal.Decimal
	Category    string
	ImageURL    string
	Sizes       []string
}

// FeaturedInput is the admin featured collection payload.
type FeaturedInput struct {
	Title        string
	Description  string
	ImageURL     string
	Category     string
	ProductIDs   []uuid.UUID
	DisplayOrder int
	IsActive     bool
}

type catalogRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Product, error)
	FindByIDs(ctx context.Context, ids []uuid.UUID) ([]models.Product, error)
	List(ctx context.Context, q ListQuery) ([]models.Product, error)
	Create(ctx context.Context, product *models.Product) error
	Update(ctx context.Context, product *models.Product) error
	Delete(ctx context.Context, id uuid.UUID) error
	ListCategories(ctx context.Context) ([]models.Category, error)
	CreateCategory(ctx context.Context, category *models.Category) error
	ListFeatured(ctx context.Context, category string) ([]models.FeaturedCollection, error)
	GetFeatured(ctx context.Context, id uuid.UUID) (*models.FeaturedCollection, error)
	CreateFeatured(ctx context.Context, collection *models.FeaturedCollection) error
	UpdateFeatured(ctx context.Context, collection *models.FeaturedCollection) error
	DeleteFeatured(ctx context.Context, id uuid.UUID) error
}

type imageStore interface {
	Upload(ctx context.Context, object, contentType string, body io.Reader) (string, error)
}

type service struct {
	repo          catalogRepository
	images        imageStore
	logg          *logger.Logger
	maxUploadSize int64
}

// NewService builds the catalog service. images may be nil when uploads are disabled.
func NewService(repo catalogRepository, images imageStore, logg *logger.Logger, maxUploadMB int) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("product repository required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	if maxUploadMB <= 0 {
		maxUploadMB = 10
	}
	return &service{
		repo:          repo,
		images:        images,
		logg:          logg,
		maxUploadSize: int64(maxUploadMB) << 20,
	}, nil
}

func (s *service) ListProducts(ctx context.Context, input ListInput) (*pagination.Page[ProductDTO], error) {
	cursor, err := pagination.ParseCursor(input.Pagination.Cursor)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	limit := pagination.NormalizeLimit(input.Pagination.Limit, PageSize)
	rows, err := s.repo.List(ctx, ListQuery{Category: input.Category, Cursor: cursor, Limit: limit})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list products")
	}
	dtos := make([]ProductDTO, 0, len(rows))
	for i := range rows {
		dtos = append(dtos, *NewProductDTO(&rows[i]))
	}
	page := pagination.Build(dtos, limit, func(p ProductDTO) pagination.Cursor {
		return pagination.Cursor{CreatedAt: p.CreatedAt, ID: p.ID}
	})
	return &page, nil
}

func (s *service) GetProduct(ctx context.Context, id uuid.UUID) (*ProductDTO, error) {
	product, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, mapLookupError(err, "product")
	}
	return NewProductDTO(product), nil
}

func (s *service) ListCategories(ctx context.Context) ([]CategoryDTO, error) {
	rows, err := s.repo.ListCategories(ctx)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list categories")
	}
	out := make([]CategoryDTO, 0, len(rows))
	for _, row := range rows {
		out = append(out, CategoryDTO{ID: row.ID, Name: row.Name})
	}
	return out, nil
}

func (s *service) ListFeatured(ctx context.Context, category string) ([]FeaturedDTO, error) {
	collections, err := s.repo.ListFeatured(ctx, category)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list featured collections")
	}
	out := make([]FeaturedDTO, 0, len(collections))
	for i := range collections {
		dto, err := s.featuredDTO(ctx, &collections[i])
		if err != nil {
			return nil, err
		}
		out = append(out, *dto)
	}
	return out, nil
}

func (s *service) CreateProduct(ctx context.Context, input ProductInput) (*ProductDTO, error) {
	input, err := normalizeProductInput(input)
	if err != nil {
		return nil, err
	}
	product := &models.Product{ID: uuid.New()}
	applyProductInput(product, input)
	if err := s.repo.Create(ctx, product); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create product")
	}
	s.logg.Info(s.logg.WithField(ctx, "product_id", product.ID.String()), "product.created")
	return NewProductDTO(product), nil
}

func (s *service) UpdateProduct(ctx context.Context, id uuid.UUID, input ProductInput) (*ProductDTO, error) {
	input, err := normalizeProductInput(input)
	if err != nil {
		return nil, err
	}
	product, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, mapLookupError(err, "product")
	}
	applyProductInput(product, input)
	if err := s.repo.Update(ctx, product); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update product")
	}
	return NewProductDTO(product), nil
}

func (s *service) DeleteProduct(ctx context.Context, id uuid.UUID) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		return mapLookupError(err, "product")
	}
	s.logg.Info(s.logg.WithField(ctx, "product_id", id.String()), "product.deleted")
	return nil
}

func (s *service) CreateCategory(ctx context.Context, name string) (*CategoryDTO, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "category name is required")
	}
	category := &models.Category{ID: uuid.New(), Name: name}
	if err := s.repo.CreateCategory(ctx, category); err != nil {
		if db.IsUniqueViolation(err, "ux_categories_name") {
			return nil, pkgerrors.New(pkgerrors.CodeConflict, fmt.Sprintf("category %q already exists", name))
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create category")
	}
	return &CategoryDTO{ID: category.ID, Name: category.Name}, nil
}

func (s *service) CreateFeatured(ctx context.Context, input FeaturedInput) (*FeaturedDTO, error) {
	if strings.TrimSpace(input.Title) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "title is required")
	}
	collection := &models.FeaturedCollection{ID: uuid.New()}
	applyFeaturedInput(collection, input)
	if err := s.repo.CreateFeatured(ctx, collection); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create featured collection")
	}
	return s.featuredDTO(ctx, collection)
}

func (s *service) UpdateFeatured(ctx context.Context, id uuid.UUID, input FeaturedInput) (*FeaturedDTO, error) {
	if strings.TrimSpace(input.Title) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "title is required")
	}
	collection, err := s.repo.GetFeatured(ctx, id)
	if err != nil {
		return nil, mapLookupError(err, "featured collection")
	}
	applyFeaturedInput(collection, input)
	if err := s.repo.UpdateFeatured(ctx, collection); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update featured collection")
	}
	return s.featuredDTO(ctx, collection)
}

func (s *service) DeleteFeatured(ctx context.Context, id uuid.UUID) error {
	if err := s.repo.DeleteFeatured(ctx, id); err != nil {
		return mapLookupError(err, "featured collection")
	}
	return nil
}

// UploadImage sniffs the content type, rejects anything but images and stores the
// file under products/ with a generated name.
func (s *service) UploadImage(ctx context.Context, filename string, body io.Reader) (*UploadResult, error) {
	if s.images == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "image uploads are not configured")
	}
	if body == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "file is required")
	}
	data, err := io.ReadAll(io.LimitReader(body, s.maxUploadSize+1))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "read upload")
	}
	if len(data) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "file is empty")
	}
	if int64(len(data)) > s.maxUploadSize {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "file is too large").
			WithDetails(map[string]any{"max_bytes": s.maxUploadSize})
	}

	detected := mimetype.Detect(data)
	if !isAllowedImage(detected) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "only jpeg, png, webp or gif images are accepted").
			WithDetails(map[string]any{"content_type": detected.String(), "filename": filename})
	}

	contentType := strings.SplitN(detected.String(), ";", 2)[0]
	object := path.Join(uploadPrefix, uuid.NewString()+detected.Extension())
	url, err := s.images.Upload(ctx, object, contentType, bytes.NewReader(data))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "upload image")
	}
	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"object": object,
		"bytes":  len(data),
	}), "product.image_uploaded")
	return &UploadResult{
		Object:      object,
		URL:         url,
		ContentType: contentType,
		Size:        int64(len(data)),
	}, nil
}

func (s *service) featuredDTO(ctx context.Context, collection *models.FeaturedCollection) (*FeaturedDTO, error) {
	products, err := s.repo.FindByIDs(ctx, collection.ProductIDs)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load featured products")
	}
	byID := make(map[uuid.UUID]*models.Product, len(products))
	for i := range products {
		byID[products[i].ID] = &products[i]
	}
	items := make([]ProductDTO, 0, len(collection.ProductIDs))
	for _, id := range collection.ProductIDs {
		if p, ok := byID[id]; ok {
			items = append(items, *NewProductDTO(p))
		}
	}
	return &FeaturedDTO{
		ID:           collection.ID,
		Title:        collection.Title,
		Description:  collection.Description,
		ImageURL:     collection.ImageURL,
		Category:     collection.Category,
		DisplayOrder: collection.DisplayOrder,
		IsActive:     collection.IsActive,
		Products:     items,
	}, nil
}

func normalizeProductInput(input ProductInput) (ProductInput, error) {
	input.Name = strings.TrimSpace(input.Name)
	input.Description = strings.TrimSpace(input.Description)
	input.Category = strings.TrimSpace(input.Category)
	input.ImageURL = strings.TrimSpace(input.ImageURL)

	fields := map[string]string{}
	if input.Name == "" {
		fields["name"] = "is required"
	}
	if input.Category == "" {
		fields["category"] = "is required"
	}
	if !input.Price.IsPositive() {
		fields["price"] = "must be greater than zero"
	}

	sizes := make([]string, 0, len(input.Sizes))
	seen := map[string]struct{}{}
	for _, size := range input.Sizes {
		size = strings.ToUpper(strings.TrimSpace(size))
		if size == "" {
			continue
		}
		if _, dup := seen[size]; dup {
			continue
		}
		seen[size] = struct{}{}
		sizes = append(sizes, size)
	}
	if len(sizes) == 0 {
		fields["sizes"] = "at least one size is required"
	}
	input.Sizes = sizes

	if len(fields) > 0 {
		return input, pkgerrors.New(pkgerrors.CodeValidation, "invalid product").WithDetails(fields)
	}
	return input, nil
}

func applyProductInput(product *models.Product, input ProductInput) {
	product.Name = input.Name
	product.Description = input.Description
	product.Price = input.Price.Round(2)
	product.Category = input.Category
	product.ImageURL = input.ImageURL
	product.Sizes = append([]string(nil), input.Sizes...)
}

func applyFeaturedInput(collection *models.FeaturedCollection, input FeaturedInput) {
	collection.Title = strings.TrimSpace(input.Title)
	collection.Description = strings.TrimSpace(input.Description)
	collection.ImageURL = strings.TrimSpace(input.ImageURL)
	collection.Category = strings.TrimSpace(input.Category)
	collection.ProductIDs = append([]uuid.UUID(nil), input.ProductIDs...)
	collection.DisplayOrder = input.DisplayOrder
	collection.IsActive = input.IsActive
}

func isAllowedImage(detected *mimetype.MIME) bool {
	for _, allowed := range allowedImageTypes {
		if detected.Is(allowed) {
			return true
		}
	}
	return false
}

func mapLookupError(err error, what string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return pkgerrors.New(pkgerrors.CodeNotFound, what+" not found")
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load "+what)
}
