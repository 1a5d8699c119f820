package monitor

import (
	"math/rand"
	"time"
)

// tempKeyTTL 临时按键的保留时长
const tempKeyTTL = 2 * time.Second

// RGB 颜色
type RGB struct {
	R uint8 `json:"r"`
	G uint8 `json:"g"`
	B uint8 `json:"b"`
}

// colourChoices 涟漪效果可选颜色
var colourChoices = []RGB{
	{255, 0, 0},   // 红
	{0, 255, 0},   // 绿
	{0, 0, 255},   // 蓝
	{255, 255, 0}, // 黄
	{0, 255, 255}, // 青
	{255, 0, 255}, // 品红
}

// TempKeyEntry 临时按键记录，供涟漪灯效读取
type TempKeyEntry struct {
	ExpireAt time.Time      `json:"expire_at"`
	Position MatrixPosition `json:"position"`
	Colour   RGB            `json:"colour"`
}

// tempKeyStore 按插入顺序保存最近按下的按键
//
// 所有记录 TTL 相同，插入顺序即过期顺序，只需从头部裁剪。
// 不加锁，由 KeyManager 的锁保护。
type tempKeyStore struct {
	active  bool
	entries []TempKeyEntry

	lastColour RGB
	hasLast    bool
	rnd        *rand.Rand
}

func newTempKeyStore(rnd *rand.Rand) *tempKeyStore {
	return &tempKeyStore{rnd: rnd}
}

// prune 删除 ExpireAt 早于 now 的记录
func (s *tempKeyStore) prune(now time.Time) {
	i := 0
	for i < len(s.entries) && s.entries[i].ExpireAt.Before(now) {
		i++
	}
	if i > 0 {
		s.entries = append(s.entries[:0], s.entries[i:]...)
	}
}

// add 追加一条记录，颜色与上一条不同
func (s *tempKeyStore) add(now time.Time, pos MatrixPosition) {
	colour := s.pickColour()
	s.entries = append(s.entries, TempKeyEntry{
		ExpireAt: now.Add(tempKeyTTL),
		Position: pos,
		Colour:   colour,
	})
}

func (s *tempKeyStore) pickColour() RGB {
	colour := colourChoices[s.rnd.Intn(len(colourChoices))]
	for s.hasLast && colour == s.lastColour {
		colour = colourChoices[s.rnd.Intn(len(colourChoices))]
	}
	s.lastColour = colour
	s.hasLast = true
	return colour
}

func (s *tempKeyStore) snapshot() []TempKeyEntry {
	out := make([]TempKeyEntry, len(s.entries))
	copy(out, s.entries)
	return out
}
