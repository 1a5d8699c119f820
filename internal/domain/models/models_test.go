package models

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestMacroStep_JSON 测试宏步骤的 JSON 格式
func TestMacroStep_JSON(t *testing.T) {
	step := MacroStep{KeyName: "M", Delay: 1500, Direction: DirectionUp}

	data, err := json.Marshal(step)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"MacroKey","key_id":"M","pre_pause":1500,"state":"UP"}`, string(data))

	var decoded MacroStep
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, step, decoded)
	assert.Equal(t, 1500*time.Microsecond, decoded.DelayDuration())
}

// TestParseMacro 测试解析外部宏 JSON
func TestParseMacro(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		wantSteps int
		wantErr   bool
	}{
		{
			name:      "两个步骤",
			input:     `[{"key_id":"A","pre_pause":0,"state":"DOWN"},{"type":"MacroKey","key_id":"A","pre_pause":200,"state":"UP"}]`,
			wantSteps: 2,
		},
		{
			name:      "空数组",
			input:     `[]`,
			wantSteps: 0,
		},
		{
			name:    "非法方向",
			input:   `[{"key_id":"A","pre_pause":0,"state":"SIDEWAYS"}]`,
			wantErr: true,
		},
		{
			name:    "缺少按键",
			input:   `[{"pre_pause":0,"state":"DOWN"}]`,
			wantErr: true,
		},
		{
			name:    "不支持的步骤类型",
			input:   `[{"type":"MacroURL","key_id":"A","state":"DOWN"}]`,
			wantErr: true,
		},
		{
			name:    "不是 JSON",
			input:   `not json`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			macro, err := ParseMacro([]byte(tt.input))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Len(t, macro, tt.wantSteps)
		})
	}
}

// TestParseMacro_ErrInvalidMacro 测试错误类型
func TestParseMacro_ErrInvalidMacro(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{name: "缺少按键", input: `[{"key_id":"","state":"DOWN"}]`},
		{name: "不是 JSON", input: `not json`},
		{name: "顶层是对象", input: `{"key_id":"A","state":"DOWN"}`},
		{name: "字段类型错误", input: `[{"key_id":"A","pre_pause":"slow","state":"DOWN"}]`},
		{name: "截断", input: `[{"key_id":"A"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseMacro([]byte(tt.input))
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidMacro))
			assert.Equal(t, 1, strings.Count(err.Error(), ErrInvalidMacro.Error()), "不重复包装")
		})
	}
}

// TestMarshalMacroTable 测试宏表序列化
func TestMarshalMacroTable(t *testing.T) {
	table := MacroTable{
		"M1": {
			{KeyName: "H", Delay: 0, Direction: DirectionDown},
			{KeyName: "H", Delay: 30000, Direction: DirectionUp},
		},
		"M2": {},
	}

	out, err := MarshalMacroTable(table)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"M1": [
			{"type":"MacroKey","key_id":"H","pre_pause":0,"state":"DOWN"},
			{"type":"MacroKey","key_id":"H","pre_pause":30000,"state":"UP"}
		],
		"M2": []
	}`, out)
}

// TestMacro_CloneAndContains 测试拷贝与包含判断
func TestMacro_CloneAndContains(t *testing.T) {
	original := Macro{{KeyName: "A", Direction: DirectionDown}}
	clone := original.Clone()
	clone[0].KeyName = "B"

	assert.Equal(t, "A", original[0].KeyName, "修改拷贝不应影响原宏")
	assert.True(t, original.Contains("A"))
	assert.False(t, original.Contains("B"))
	assert.NotNil(t, Macro(nil).Clone())
}
