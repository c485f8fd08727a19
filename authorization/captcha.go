package authorization

import (
	"strings"
	"sync"
	"time"

	"github.com/mojocn/base64Captcha"
)

const (
	defaultCaptchaTTL    = 2 * time.Minute
	captchaDigits        = 5
	captchaStoreCapacity = 2048
)

// CaptchaChallenge 是一次已签发的图形验证码。
type CaptchaChallenge struct {
	ID          string
	ImageBase64 string
	ExpiresAt   time.Time
	TTL         time.Duration
}

// CaptchaStore 负责验证码的签发与一次性校验。答案存放在内存中，
// 过期或校验一次后即失效。
type CaptchaStore struct {
	mu     sync.Mutex
	driver *base64Captcha.DriverDigit
	store  base64Captcha.Store
	ttl    time.Duration
}

// NewCaptchaStore 创建数字图形验证码存储。
func NewCaptchaStore(ttl time.Duration) *CaptchaStore {
	if ttl <= 0 {
		ttl = defaultCaptchaTTL
	}
	return &CaptchaStore{
		driver: base64Captcha.NewDriverDigit(60, 160, captchaDigits, 0.7, 80),
		store:  base64Captcha.NewMemoryStore(captchaStoreCapacity, ttl),
		ttl:    ttl,
	}
}

// Issue 签发一个新的验证码挑战。生成失败时返回零值，调用方按
// 服务不可用处理。
func (s *CaptchaStore) Issue() CaptchaChallenge {
	if s == nil {
		return CaptchaChallenge{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	captcha := base64Captcha.NewCaptcha(s.driver, s.store)
	id, image, _, err := captcha.Generate()
	if err != nil {
		return CaptchaChallenge{}
	}

	imageData := strings.TrimSpace(image)
	if imageData != "" && !strings.HasPrefix(imageData, "data:") {
		imageData = "data:image/png;base64," + imageData
	}

	return CaptchaChallenge{
		ID:          id,
		ImageBase64: imageData,
		ExpiresAt:   time.Now().Add(s.ttl),
		TTL:         s.ttl,
	}
}

// Verify 校验验证码答案，校验即消费。存储未启用时放行。
func (s *CaptchaStore) Verify(id, answer string) bool {
	if s == nil {
		return true
	}

	trimmedID := strings.TrimSpace(id)
	trimmedAnswer := strings.TrimSpace(answer)
	if trimmedID == "" || trimmedAnswer == "" {
		return false
	}

	captcha := base64Captcha.NewCaptcha(s.driver, s.store)
	return captcha.Verify(trimmedID, trimmedAnswer, true)
}
