// Licensed to the Apache Software Foundation (ASF) under one
// or more contributor license agreements.  See the NOTICE file
// distributed with this work for additional information
// regarding copyright ownership.  The ASF licenses this file
// to you under the Apache License, Version 2.0 (the
// "License"); you may not use this file except in compliance
// with the License.  You may obtain a copy of the License at
//
//   http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing,
// software distributed under the License is distributed on an
// "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY
// KIND, either express or implied.  See the License for the
// specific language governing permissions and limitations
// under the License.

package bitserializer

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseFieldTag(t *testing.T) {
	t.Run("empty", func(t *testing.T) {
		ft, err := parseFieldTag("F", "")
		require.NoError(t, err)
		require.Equal(t, fieldTag{}, ft)
	})
	t.Run("ignored", func(t *testing.T) {
		ft, err := parseFieldTag("F", "-")
		require.NoError(t, err)
		require.True(t, ft.ignored)
	})
	t.Run("bare width", func(t *testing.T) {
		ft, err := parseFieldTag("F", "12")
		require.NoError(t, err)
		require.True(t, ft.hasBits)
		require.Equal(t, uint64(12), ft.bits)
	})
	t.Run("width with converter", func(t *testing.T) {
		ft, err := parseFieldTag("F", "8,conv=centi")
		require.NoError(t, err)
		require.Equal(t, uint64(8), ft.bits)
		require.Equal(t, "centi", ft.converter)
	})
	t.Run("list options", func(t *testing.T) {
		ft, err := parseFieldTag("F", "count=3,elem=10")
		require.NoError(t, err)
		require.True(t, ft.hasCount)
		require.Equal(t, 3, ft.count)
		require.Equal(t, uint64(10), ft.elemBits)
	})
	t.Run("countfield", func(t *testing.T) {
		ft, err := parseFieldTag("F", "countfield=Count,elem=8")
		require.NoError(t, err)
		require.Equal(t, "Count", ft.countField)
	})
	t.Run("switch and slot", func(t *testing.T) {
		ft, err := parseFieldTag("F", "switch=Kind,slot=24")
		require.NoError(t, err)
		require.Equal(t, "Kind", ft.switchField)
		require.True(t, ft.hasSlot)
		require.Equal(t, uint64(24), ft.slotBits)
	})
	t.Run("spaces tolerated", func(t *testing.T) {
		ft, err := parseFieldTag("F", "4, elem=8")
		require.NoError(t, err)
		require.Equal(t, uint64(4), ft.bits)
		require.Equal(t, uint64(8), ft.elemBits)
	})
}

func TestParseFieldTagErrors(t *testing.T) {
	for _, tag := range []string{
		",",
		"4,",
		"abc",
		"4,5",
		"count=3,8",
		"count=x",
		"elem=",
		"slot=big",
		"countfield=",
		"switch=",
		"conv=",
		"bogus=1",
	} {
		t.Run(tag, func(t *testing.T) {
			_, err := parseFieldTag("F", tag)
			require.ErrorIs(t, err, ErrInvalidTag, "tag %q", tag)
		})
	}
}
