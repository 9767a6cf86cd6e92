// Copyright 2020 gorse Project Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParams_Copy(t *testing.T) {
	a := Params{
		NFactors:    50,
		Lr:          0.005,
		RandomState: 42,
	}
	b := a.Copy()
	b[NFactors] = 10
	b[Lr] = 0.1
	assert.Equal(t, 50, a.GetInt(NFactors, -1))
	assert.Equal(t, 0.005, a.GetFloat64(Lr, -1))
	assert.Equal(t, 10, b.GetInt(NFactors, -1))
	assert.Equal(t, int64(42), b.GetInt64(RandomState, -1))
}

func TestParams_GetFloat64(t *testing.T) {
	p := Params{}
	assert.Equal(t, 0.02, p.GetFloat64(Reg, 0.02))
	p[Reg] = 0.5
	assert.Equal(t, 0.5, p.GetFloat64(Reg, 0.02))
	p[Reg] = 1
	assert.Equal(t, 1.0, p.GetFloat64(Reg, 0.02))
	p[Reg] = "0.5"
	assert.Equal(t, 0.02, p.GetFloat64(Reg, 0.02))
}

func TestParams_GetInt(t *testing.T) {
	p := Params{}
	assert.Equal(t, 20, p.GetInt(NEpochs, 20))
	p[NEpochs] = int64(5)
	assert.Equal(t, 5, p.GetInt(NEpochs, 20))
	p[NEpochs] = 5.0
	assert.Equal(t, 20, p.GetInt(NEpochs, 20))
}

func TestParams_GetBool(t *testing.T) {
	p := Params{StopWords: false}
	assert.False(t, p.GetBool(StopWords, true))
	p[StopWords] = "no"
	assert.True(t, p.GetBool(StopWords, true))
}

func TestParams_ToString(t *testing.T) {
	a := Params{NFactors: 50, Lr: 0.005}
	b := Params{Lr: 0.005, NFactors: 50}
	assert.Equal(t, a.ToString(), b.ToString())
	assert.Equal(t, `{"Lr":0.005,"NFactors":50}`, a.ToString())
}
