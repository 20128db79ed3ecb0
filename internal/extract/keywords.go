package extract

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/customs-regdocs/internal/crawler"
)

// DefaultDataType tags product keyword rows in the reference data store.
const DefaultDataType = "product_keywords"

// DefaultKeywords is the built-in bilingual product taxonomy.
var DefaultKeywords = []string{
	"áo khoác", "áo sơ mi", "quần áo", "hàng may mặc", "vải",
	"giày", "giày da", "dép", "túi xách",
	"điện thoại", "máy tính", "linh kiện điện tử", "máy móc", "thiết bị y tế",
	"gạo", "cà phê", "hạt điều", "hạt tiêu", "chè", "trái cây", "rau quả",
	"thủy sản", "tôm", "cá tra",
	"gỗ", "đồ gỗ", "thép", "sắt thép", "nhôm", "xăng dầu", "phân bón", "hóa chất", "nhựa",
	"ô tô", "xe máy", "phụ tùng",
	"rượu", "bia", "thuốc lá", "dược phẩm", "mỹ phẩm", "sữa", "đường",
	"garment", "apparel", "jacket", "footwear", "leather shoes", "handbag",
	"mobile phone", "computer", "electronic components", "machinery", "medical equipment",
	"rice", "coffee", "cashew", "pepper", "tea", "fruit", "vegetables",
	"seafood", "shrimp", "pangasius",
	"timber", "wood furniture", "steel", "aluminium", "petroleum", "fertilizer", "chemicals", "plastic",
	"automobile", "motorcycle", "spare parts",
	"wine", "beer", "cigarettes", "pharmaceuticals", "cosmetics", "milk", "sugar",
}

// ParseKeywords reads a JSON array of strings, falling back to newline or comma
// separated text.
func ParseKeywords(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	if strings.HasPrefix(raw, "[") {
		var list []string
		if err := json.Unmarshal([]byte(raw), &list); err == nil {
			return trimAll(list)
		}
	}
	return trimAll(strings.FieldsFunc(raw, func(r rune) bool {
		return r == '\n' || r == '\r' || r == ','
	}))
}

func trimAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// KeywordSource loads the product dictionary from reference data and caches the
// compiled matcher in process.
type KeywordSource struct {
	store    crawler.ReferenceDataStore
	dataType string
	ttl      time.Duration
	now      func() time.Time
	logger   *zap.Logger

	mu       sync.Mutex
	matcher  *Matcher
	loadedAt time.Time
}

// NewKeywordSource returns a source. A nil store always serves DefaultKeywords.
// ttl <= 0 caches forever.
func NewKeywordSource(store crawler.ReferenceDataStore, dataType string, ttl time.Duration, logger *zap.Logger) *KeywordSource {
	if dataType == "" {
		dataType = DefaultDataType
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &KeywordSource{
		store:    store,
		dataType: dataType,
		ttl:      ttl,
		now:      time.Now,
		logger:   logger.Named("keywords"),
	}
}

// Matcher returns the cached matcher, reloading it once the TTL expired.
func (s *KeywordSource) Matcher(ctx context.Context) *Matcher {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if s.matcher != nil && (s.ttl <= 0 || now.Sub(s.loadedAt) < s.ttl) {
		return s.matcher
	}

	keywords, err := s.load(ctx)
	switch {
	case err != nil && s.matcher != nil:
		s.logger.Warn("keyword reload failed, keeping cached dictionary", zap.Error(err))
		s.loadedAt = now
		return s.matcher
	case err != nil:
		s.logger.Warn("keyword load failed, using defaults", zap.Error(err))
		keywords = nil
	}
	if len(keywords) == 0 {
		keywords = DefaultKeywords
	}
	s.matcher = NewMatcher(keywords)
	s.loadedAt = now
	s.logger.Debug("keyword dictionary loaded", zap.Int("keywords", s.matcher.Len()))
	return s.matcher
}

// Invalidate drops the cached dictionary.
func (s *KeywordSource) Invalidate() {
	s.mu.Lock()
	s.matcher = nil
	s.mu.Unlock()
}

func (s *KeywordSource) load(ctx context.Context) ([]string, error) {
	if s.store == nil {
		return nil, nil
	}
	rows, err := s.store.ValuesByType(ctx, s.dataType)
	if err != nil {
		return nil, err
	}
	var keywords []string
	for _, row := range rows {
		keywords = append(keywords, ParseKeywords(row)...)
	}
	return keywords, nil
}
