package catalog

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/expotoworld/storefront/internal/apperr"
	"github.com/expotoworld/storefront/internal/models"
	"github.com/expotoworld/storefront/internal/storage"
)

const testBucket = "product-images"

func testURL(key string) string {
	return "https://cdn.example.com/storage/v1/object/public/" + testBucket + "/" + key
}

// memStore is an in-memory relational store. Every method holds the lock for
// its whole duration, the way a transaction holding the product row lock would.
type memStore struct {
	mu sync.Mutex

	products   map[int]*models.Product
	categories map[int][]int
	units      map[int][]int
	images     map[int]*models.ProductImage
	nextImage  int
	pending    map[string]*models.PendingDeletion

	failDeleteRow int
	replaceCalls  int
}

func newMemStore() *memStore {
	return &memStore{
		products:   map[int]*models.Product{},
		categories: map[int][]int{},
		units:      map[int][]int{},
		images:     map[int]*models.ProductImage{},
		nextImage:  1,
		pending:    map[string]*models.PendingDeletion{},
	}
}

func (s *memStore) addProduct(id int, categories, units []int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.products[id] = &models.Product{ID: id, Name: fmt.Sprintf("product %d", id)}
	if len(categories) > 0 {
		s.products[id].PrimaryCategoryID = &categories[0]
	}
	s.categories[id] = append([]int(nil), categories...)
	s.units[id] = append([]int(nil), units...)
}

func (s *memStore) addImage(id, productID int, key string, main bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.images[id] = &models.ProductImage{ID: id, ProductID: productID, URL: testURL(key), IsMain: main, DisplayOrder: len(s.images) + 1}
	if id >= s.nextImage {
		s.nextImage = id + 1
	}
}

func (s *memStore) categorySet(productID int) []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := append([]int(nil), s.categories[productID]...)
	sort.Ints(out)
	return out
}

func (s *memStore) mains(productID int) []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []int
	for _, img := range s.images {
		if img.ProductID == productID && img.IsMain && img.DeletedAt == nil {
			ids = append(ids, img.ID)
		}
	}
	sort.Ints(ids)
	return ids
}

func (s *memStore) hasImage(id int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.images[id]
	return ok
}

func (s *memStore) pendingEntry(key string) (models.PendingDeletion, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pending[testBucket+"/"+key]
	if !ok {
		return models.PendingDeletion{}, false
	}
	return *p, true
}

func (s *memStore) ReplaceProductRelations(ctx context.Context, productID int, fields models.ProductFields, categoryIDs, unitIDs []int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replaceCalls++
	p, ok := s.products[productID]
	if !ok {
		return apperr.NotFound("product", productID)
	}
	p.Name = fields.Name
	p.Price = fields.Price
	primary := categoryIDs[0]
	p.PrimaryCategoryID = &primary
	s.categories[productID] = append([]int(nil), categoryIDs...)
	s.units[productID] = append([]int(nil), unitIDs...)
	return nil
}

func (s *memStore) ProductRelations(ctx context.Context, productID int) (models.ProductRelations, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.products[productID]
	if !ok {
		return models.ProductRelations{}, apperr.NotFound("product", productID)
	}
	return models.ProductRelations{
		ProductID:         productID,
		PrimaryCategoryID: p.PrimaryCategoryID,
		CategoryIDs:       append([]int{}, s.categories[productID]...),
		UnitIDs:           append([]int{}, s.units[productID]...),
	}, nil
}

func (s *memStore) InsertImages(ctx context.Context, productID int, descs []models.ImageDescriptor) ([]models.ProductImage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.products[productID]; !ok {
		return nil, apperr.NotFound("product", productID)
	}
	next := 0
	for _, img := range s.images {
		if img.ProductID == productID && img.DeletedAt == nil {
			if img.DisplayOrder > next {
				next = img.DisplayOrder
			}
		}
	}
	for _, d := range descs {
		if d.IsMain {
			for _, img := range s.images {
				if img.ProductID == productID {
					img.IsMain = false
				}
			}
		}
	}
	var out []models.ProductImage
	for _, d := range descs {
		order := next + 1
		if d.DisplayOrder != nil {
			order = *d.DisplayOrder
		}
		if order > next {
			next = order
		}
		img := &models.ProductImage{ID: s.nextImage, ProductID: productID, URL: d.URL, AltText: d.AltText, IsMain: d.IsMain, DisplayOrder: order}
		s.images[img.ID] = img
		s.nextImage++
		out = append(out, *img)
	}
	return out, nil
}

func (s *memStore) SetMainImage(ctx context.Context, productID, imageID int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	target, ok := s.images[imageID]
	if !ok || target.ProductID != productID || target.DeletedAt != nil {
		return apperr.NotFound("image", imageID)
	}
	for _, img := range s.images {
		if img.ProductID == productID {
			img.IsMain = img.ID == imageID
		}
	}
	return nil
}

func (s *memStore) TombstoneImage(ctx context.Context, productID, imageID int, bucket string, resolveKey func(string) string) (models.ProductImage, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	img, ok := s.images[imageID]
	if !ok || img.ProductID != productID {
		return models.ProductImage{}, "", apperr.NotFound("image", imageID)
	}
	if img.DeletedAt == nil {
		now := time.Now()
		img.DeletedAt = &now
		img.IsMain = false
	}
	key := resolveKey(img.URL)
	if key != "" {
		id := imageID
		if _, exists := s.pending[bucket+"/"+key]; !exists {
			s.pending[bucket+"/"+key] = &models.PendingDeletion{Bucket: bucket, ObjectKey: key, ImageID: &id, RequestedAt: time.Now(), NotBefore: time.Now()}
		}
	}
	return *img, key, nil
}

func (s *memStore) DeleteImageRow(ctx context.Context, productID, imageID int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failDeleteRow > 0 {
		s.failDeleteRow--
		return apperr.Unknown(fmt.Errorf("connection reset by peer"))
	}
	if img, ok := s.images[imageID]; ok && img.ProductID == productID && img.DeletedAt != nil {
		delete(s.images, imageID)
	}
	return nil
}

func (s *memStore) DeleteImageRecord(ctx context.Context, imageID int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.images[imageID]; !ok {
		return apperr.NotFound("image", imageID)
	}
	delete(s.images, imageID)
	return nil
}

func (s *memStore) ListImages(ctx context.Context, productID int) ([]models.ProductImage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []models.ProductImage{}
	for _, img := range s.images {
		if img.ProductID == productID && img.DeletedAt == nil {
			out = append(out, *img)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DisplayOrder != out[j].DisplayOrder {
			return out[i].DisplayOrder < out[j].DisplayOrder
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *memStore) ReorderImages(ctx context.Context, productID int, order []models.ImageOrder) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, o := range order {
		img, ok := s.images[o.ImageID]
		if !ok || img.ProductID != productID || img.DeletedAt != nil {
			return apperr.NotFound("image", o.ImageID)
		}
	}
	for _, o := range order {
		s.images[o.ImageID].DisplayOrder = o.DisplayOrder
	}
	return nil
}

func (s *memStore) EnqueuePendingDeletion(ctx context.Context, p models.PendingDeletion) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := p.Bucket + "/" + p.ObjectKey
	if _, ok := s.pending[k]; !ok {
		cp := p
		s.pending[k] = &cp
	}
	return nil
}

func (s *memStore) DuePendingDeletions(ctx context.Context, limit int) ([]models.PendingDeletion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	var out []models.PendingDeletion
	for _, p := range s.pending {
		if !p.NotBefore.After(now) {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ObjectKey < out[j].ObjectKey })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memStore) ResolvePendingDeletion(ctx context.Context, bucket, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pending, bucket+"/"+key)
	return nil
}

func (s *memStore) DeferPendingDeletion(ctx context.Context, bucket, key, cause string, backoff time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.pending[bucket+"/"+key]; ok {
		p.Attempts++
		p.NotBefore = time.Now().Add(backoff)
		p.LastError = &cause
	}
	return nil
}

func (s *memStore) PurgeTombstones(ctx context.Context, olderThan time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, img := range s.images {
		if img.DeletedAt != nil && img.DeletedAt.Before(olderThan) {
			delete(s.images, id)
			n++
		}
	}
	return n, nil
}

func (s *memStore) LiveImageURLs(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, img := range s.images {
		if img.DeletedAt == nil {
			out = append(out, img.URL)
		}
	}
	return out, nil
}

// memBlobs is an in-memory blob store.
type memBlobs struct {
	mu        sync.Mutex
	objects   map[string]storage.ObjectInfo
	deleteErr error
	deletes   []string
}

func newMemBlobs(keys ...string) *memBlobs {
	b := &memBlobs{objects: map[string]storage.ObjectInfo{}}
	for _, k := range keys {
		b.objects[k] = storage.ObjectInfo{Key: k, LastModified: time.Now().Add(-48 * time.Hour)}
	}
	return b
}

func (b *memBlobs) has(key string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.objects[key]
	return ok
}

func (b *memBlobs) Upload(ctx context.Context, bucket, key string, data []byte, contentType string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.objects[key] = storage.ObjectInfo{Key: key, Size: int64(len(data)), LastModified: time.Now()}
	return testURL(key), nil
}

func (b *memBlobs) Delete(ctx context.Context, bucket, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.deletes = append(b.deletes, key)
	if b.deleteErr != nil {
		return b.deleteErr
	}
	if _, ok := b.objects[key]; !ok {
		return &apperr.NotFoundError{Resource: "object", ID: key}
	}
	delete(b.objects, key)
	return nil
}

func (b *memBlobs) PublicURL(bucket, key string) string { return testURL(key) }

func (b *memBlobs) EnsureBucket(ctx context.Context, bucket string, policy storage.BucketPolicy) error {
	return nil
}

func (b *memBlobs) List(ctx context.Context, bucket, prefix string, fn func(storage.ObjectInfo) error) error {
	b.mu.Lock()
	objs := make([]storage.ObjectInfo, 0, len(b.objects))
	for k, o := range b.objects {
		if strings.HasPrefix(k, prefix) {
			objs = append(objs, o)
		}
	}
	b.mu.Unlock()
	sort.Slice(objs, func(i, j int) bool { return objs[i].Key < objs[j].Key })
	for _, o := range objs {
		if err := fn(o); err != nil {
			return err
		}
	}
	return nil
}

var (
	_ RelationStore = (*memStore)(nil)
	_ ImageStore    = (*memStore)(nil)
	_ PendingStore  = (*memStore)(nil)
	_ storage.Store = (*memBlobs)(nil)
)
