package catalog

import (
	"context"

	"github.com/google/uuid"
)

// Service defines catalog business logic.
type Service interface {
	CreateProduct(ctx context.Context, in ProductInput) (*Product, error)
	// GetProduct returns ErrProductNotFound for malformed or unknown ids.
	GetProduct(ctx context.Context, id string) (*Product, error)
	ListProducts(ctx context.Context, filter ListFilter) ([]*Product, error)
	// UpdateProduct edits the listing. Orders already placed keep the price
	// they were created with.
	UpdateProduct(ctx context.Context, id string, in ProductInput) (*Product, error)
}

type service struct{ repo Repository }

func NewService(repo Repository) Service { return &service{repo: repo} }

func (s *service) CreateProduct(ctx context.Context, in ProductInput) (*Product, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	p := &Product{ID: uuid.New(), IsActive: true}
	apply(p, in)
	if err := s.repo.Create(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

func (s *service) GetProduct(ctx context.Context, id string) (*Product, error) {
	uid, err := uuid.Parse(id)
	if err != nil {
		return nil, ErrProductNotFound
	}
	return s.repo.GetByID(ctx, uid)
}

func (s *service) ListProducts(ctx context.Context, filter ListFilter) ([]*Product, error) {
	return s.repo.List(ctx, filter)
}

func (s *service) UpdateProduct(ctx context.Context, id string, in ProductInput) (*Product, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	p, err := s.GetProduct(ctx, id)
	if err != nil {
		return nil, err
	}
	apply(p, in)
	if err := s.repo.Update(ctx, p); err != nil {
		return nil, err
	}
	return s.repo.GetByID(ctx, p.ID)
}

func apply(p *Product, in ProductInput) {
	p.Name = in.Name
	p.Description = in.Description
	p.Brand = in.Brand
	p.Category = in.Category
	p.Price = in.Price.Round(2)
	p.Images = in.Images
	if p.Images == nil {
		p.Images = []string{}
	}
	p.Color = in.Color
	p.Featured = in.Featured
	if in.IsActive != nil {
		p.IsActive = *in.IsActive
	}
	p.Sizes = in.Sizes
}
